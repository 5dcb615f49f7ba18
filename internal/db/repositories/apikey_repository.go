// apikey_repository.go implements APIKeyRepository, providing database queries
// for creating, listing, and authenticating API keys. Authentication looks up
// candidates by the indexed display prefix; the bcrypt comparison happens in
// internal/auth against the returned hashes.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldtrace/fieldtrace/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create persists a new API key record. The ID and CreatedAt fields are
// assigned here when unset.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.Name, key.KeyHash, key.KeyPrefix, scopesJSON, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetByPrefix retrieves all keys sharing a display prefix. Prefixes are not
// unique, so the caller must bcrypt-compare the presented key against each
// candidate's hash.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// List retrieves all API keys, newest first.
func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at
		FROM api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// Delete removes an API key by ID. Returns sql.ErrNoRows when no key matched.
func (r *APIKeyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchLastUsed updates the key's last_used_at timestamp. Failures here are
// non-fatal to the request; callers log and continue.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func scanAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key := &models.APIKey{}
		var scopesJSON []byte
		err := rows.Scan(
			&key.ID,
			&key.Name,
			&key.KeyHash,
			&key.KeyPrefix,
			&scopesJSON,
			&key.ExpiresAt,
			&key.LastUsedAt,
			&key.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		if len(scopesJSON) > 0 {
			if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
			}
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
