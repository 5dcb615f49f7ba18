// Package models - api_key.go defines the APIKey model. Only the bcrypt hash of
// a key is ever stored; the display prefix exists so the indexed lookup narrows
// candidates before the (expensive) bcrypt comparison runs.
package models

import "time"

// APIKey represents a stored API key record
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string // bcrypt hash of the full key
	KeyPrefix  string // first characters of the key, for display and lookup
	Scopes     []string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
