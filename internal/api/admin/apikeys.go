// Package admin implements the admin-scoped API: key management and
// operational triggers. apikeys.go covers key minting, listing, and
// revocation. The raw key material is returned exactly once, in the create
// response; only the bcrypt hash is stored.
package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldtrace/fieldtrace/internal/auth"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/models"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
)

// APIKeyHandlers serves the /api/v1/admin/apikeys routes.
type APIKeyHandlers struct {
	cfg  *config.Config
	repo *repositories.APIKeyRepository
}

// NewAPIKeyHandlers creates the API key handler group.
func NewAPIKeyHandlers(cfg *config.Config, repo *repositories.APIKeyRepository) *APIKeyHandlers {
	return &APIKeyHandlers{cfg: cfg, repo: repo}
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// apiKeyResponse is the wire form of a stored key. The hash never leaves the
// database; Key is populated only in the create response.
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toAPIKeyResponse(key *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		Scopes:     key.Scopes,
		ExpiresAt:  key.ExpiresAt,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

// Create handles POST /api/v1/admin/apikeys: mint a new key.
func (h *APIKeyHandlers) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = auth.GetDefaultScopes()
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rawKey, hash, displayPrefix, err := auth.GenerateAPIKey(h.cfg.Auth.APIKeys.Prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate key"})
		return
	}

	key := &models.APIKey{
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: displayPrefix,
		Scopes:    scopes,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.repo.Create(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store key"})
		return
	}

	resp := toAPIKeyResponse(key)
	resp.Key = rawKey
	c.JSON(http.StatusCreated, resp)
}

// List handles GET /api/v1/admin/apikeys.
func (h *APIKeyHandlers) List(c *gin.Context) {
	keys, err := h.repo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toAPIKeyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": resp})
}

// Delete handles DELETE /api/v1/admin/apikeys/:id.
func (h *APIKeyHandlers) Delete(c *gin.Context) {
	err := h.repo.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete key"})
		return
	}
	c.Status(http.StatusNoContent)
}
