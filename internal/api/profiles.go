// profiles.go implements the profile demo entity: an in-memory document store
// whose mutations run through the tracking engine, so every PATCH records
// exactly the tracked field changes the active policy declares. It exists to
// exercise the tracked path end to end; real consumers embed the engine in
// their own domain types.
package api

import (
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldtrace/fieldtrace/internal/db/models"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/middleware"
	"github.com/fieldtrace/fieldtrace/internal/recorder"
	"github.com/fieldtrace/fieldtrace/pkg/track"
)

// profileKind is the entity kind profiles record under, and the kind a policy
// file uses to declare their tracked fields.
const profileKind = "profile"

// ProfileHandlers serves the /api/v1/profiles routes.
type ProfileHandlers struct {
	registry *track.Registry
	repo     *repositories.ChangeSetRepository
	recorder *recorder.Recorder

	mu       sync.Mutex
	profiles map[string]*track.Document
}

// NewProfileHandlers creates the profile handler group over the given
// tracking registry.
func NewProfileHandlers(registry *track.Registry, repo *repositories.ChangeSetRepository, rec *recorder.Recorder) *ProfileHandlers {
	return &ProfileHandlers{
		registry: registry,
		repo:     repo,
		recorder: rec,
		profiles: make(map[string]*track.Document),
	}
}

// Create handles POST /api/v1/profiles. The body is a flat JSON object of
// initial field values; an "id" field is honored, otherwise one is generated.
// Initial values are not recorded as changes: tracking observes mutations,
// not creation.
func (h *ProfileHandlers) Create(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	id := uuid.New().String()
	if v, ok := fields["id"].(string); ok && v != "" {
		id = v
	}
	delete(fields, "id")

	doc := track.NewDocument(profileKind)
	for _, field := range sortedKeys(fields) {
		doc.Set(field, fields[field])
	}

	h.mu.Lock()
	if _, exists := h.profiles[id]; exists {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Profile already exists"})
		return
	}
	h.profiles[id] = doc
	h.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"id": id, "profile": documentFields(doc)})
}

// Get handles GET /api/v1/profiles/:id.
func (h *ProfileHandlers) Get(c *gin.Context) {
	id := c.Param("id")

	h.mu.Lock()
	doc, ok := h.profiles[id]
	var snapshot map[string]interface{}
	if ok {
		snapshot = documentFields(doc)
	}
	h.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "profile": snapshot})
}

// Update handles PATCH /api/v1/profiles/:id. Field updates are applied
// through a tracking handle, so only fields the active policy tracks produce
// change records; a write that does not change the value produces none. The
// collapsed changes are persisted as one change set and returned.
func (h *ProfileHandlers) Update(c *gin.Context) {
	id := c.Param("id")

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}
	delete(updates, "id")

	h.mu.Lock()
	doc, ok := h.profiles[id]
	if !ok {
		h.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	handle, err := track.Wrap(doc, track.WithRegistry(h.registry))
	if err != nil {
		h.mu.Unlock()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to wrap profile"})
		return
	}
	for _, field := range sortedKeys(updates) {
		if err := handle.Set(field, updates[field]); err != nil {
			h.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to set field: " + field})
			return
		}
	}
	changes := handle.Changes()
	snapshot := documentFields(doc)
	h.mu.Unlock()

	if len(changes) == 0 {
		c.JSON(http.StatusOK, gin.H{"id": id, "profile": snapshot, "changes": []track.Change{}})
		return
	}

	set := &models.ChangeSet{
		Kind:     profileKind,
		EntityID: id,
		Actor:    middleware.CallerActor(c),
		Source:   models.SourceTracked,
	}
	if rid, ok := c.Get(middleware.RequestIDKey); ok {
		if s, ok := rid.(string); ok && s != "" {
			set.RequestID = &s
		}
	}
	for i, ch := range changes {
		set.Records = append(set.Records, models.ChangeRecord{
			Field:    ch.Field,
			OldValue: ch.OldValue,
			NewValue: ch.NewValue,
			Position: i,
		})
	}

	if err := h.recorder.Record(c.Request.Context(), set); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record changes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            id,
		"profile":       snapshot,
		"change_set_id": set.ID,
		"changes":       changes,
	})
}

// History handles GET /api/v1/profiles/:id/history: the change sets recorded
// for that profile, newest first.
func (h *ProfileHandlers) History(c *gin.Context) {
	id := c.Param("id")
	kind := profileKind
	filters := repositories.ChangeSetFilters{Kind: &kind, EntityID: &id}

	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	sets, total, err := h.repo.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	resp := make([]changeSetResponse, 0, len(sets))
	for _, set := range sets {
		resp = append(resp, toChangeSetResponse(set))
	}
	c.JSON(http.StatusOK, gin.H{
		"change_sets": resp,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func documentFields(doc *track.Document) map[string]interface{} {
	out := make(map[string]interface{}, doc.Len())
	for _, field := range doc.Fields() {
		v, _ := doc.Get(field)
		out[field] = v
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
