// changesets.go implements the change-set ingest and query handlers. Ingest
// accepts pre-built change sets from callers that track changes themselves;
// the query side serves both sources.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldtrace/fieldtrace/internal/db/models"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/middleware"
	"github.com/fieldtrace/fieldtrace/internal/naming"
	"github.com/fieldtrace/fieldtrace/internal/recorder"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ChangeSetHandlers serves the /api/v1/changesets routes.
type ChangeSetHandlers struct {
	repo     *repositories.ChangeSetRepository
	recorder *recorder.Recorder
}

// NewChangeSetHandlers creates the change-set handler group.
func NewChangeSetHandlers(repo *repositories.ChangeSetRepository, rec *recorder.Recorder) *ChangeSetHandlers {
	return &ChangeSetHandlers{repo: repo, recorder: rec}
}

// ingestRequest is the POST /changesets body.
type ingestRequest struct {
	Kind     string                 `json:"kind"`
	EntityID string                 `json:"entity_id"`
	Actor    string                 `json:"actor"`
	Metadata map[string]interface{} `json:"metadata"`
	Changes  []ingestChange         `json:"changes"`
}

type ingestChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// changeSetResponse is the wire form of one change set.
type changeSetResponse struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	EntityID   string                 `json:"entity_id"`
	Actor      string                 `json:"actor,omitempty"`
	Source     string                 `json:"source"`
	RequestID  *string                `json:"request_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
	Records    []changeRecordResponse `json:"records,omitempty"`
}

type changeRecordResponse struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Position int         `json:"position"`
}

func toChangeSetResponse(set *models.ChangeSet) changeSetResponse {
	resp := changeSetResponse{
		ID:         set.ID,
		Kind:       set.Kind,
		EntityID:   set.EntityID,
		Actor:      set.Actor,
		Source:     set.Source,
		RequestID:  set.RequestID,
		Metadata:   set.Metadata,
		RecordedAt: set.RecordedAt,
	}
	for _, rec := range set.Records {
		resp.Records = append(resp.Records, changeRecordResponse{
			Field:    rec.Field,
			OldValue: rec.OldValue,
			NewValue: rec.NewValue,
			Position: rec.Position,
		})
	}
	return resp
}

// Ingest handles POST /api/v1/changesets: record a pre-built change set.
func (h *ChangeSetHandlers) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}
	if req.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}
	if len(req.Changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "changes must not be empty"})
		return
	}
	seen := make(map[string]bool, len(req.Changes))
	for _, ch := range req.Changes {
		if ch.Field == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "change field names must not be empty"})
			return
		}
		if seen[ch.Field] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate change field: " + ch.Field})
			return
		}
		seen[ch.Field] = true
	}

	actor := req.Actor
	if actor == "" {
		actor = middleware.CallerActor(c)
	}

	set := &models.ChangeSet{
		Kind:     naming.Kind(req.Kind),
		EntityID: req.EntityID,
		Actor:    actor,
		Source:   models.SourceAPI,
		Metadata: req.Metadata,
	}
	if id, ok := c.Get(middleware.RequestIDKey); ok {
		if s, ok := id.(string); ok && s != "" {
			set.RequestID = &s
		}
	}
	for i, ch := range req.Changes {
		set.Records = append(set.Records, models.ChangeRecord{
			Field:    ch.Field,
			OldValue: ch.OldValue,
			NewValue: ch.NewValue,
			Position: i,
		})
	}

	if err := h.recorder.Record(c.Request.Context(), set); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record change set"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": set.ID})
}

// List handles GET /api/v1/changesets with optional filters and pagination.
func (h *ChangeSetHandlers) List(c *gin.Context) {
	var filters repositories.ChangeSetFilters
	if v := c.Query("kind"); v != "" {
		kind := naming.Kind(v)
		filters.Kind = &kind
	}
	if v := c.Query("entity_id"); v != "" {
		filters.EntityID = &v
	}
	if v := c.Query("actor"); v != "" {
		filters.Actor = &v
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filters.Since = &ts
	}
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		filters.Until = &ts
	}

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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list change sets"})
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

// Get handles GET /api/v1/changesets/:id with ordered change records.
func (h *ChangeSetHandlers) Get(c *gin.Context) {
	set, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load change set"})
		return
	}
	if set == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Change set not found"})
		return
	}
	c.JSON(http.StatusOK, toChangeSetResponse(set))
}

// Stats handles GET /api/v1/changesets/stats: per-kind totals.
func (h *ChangeSetHandlers) Stats(c *gin.Context) {
	stats, err := h.repo.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kinds": stats})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
