// Package models defines the persistence models for the fieldtrace service.
// change_set.go holds the ChangeSet and ChangeRecord models: one ChangeSet per
// observed entity mutation, carrying actor/source/request attribution, and one
// ChangeRecord per collapsed field change within it.
package models

import "time"

// Source values for ChangeSet.Source.
const (
	// SourceAPI marks change sets posted pre-built to the ingest endpoint.
	SourceAPI = "api"
	// SourceTracked marks change sets produced by the tracking engine behind
	// the profile endpoints.
	SourceTracked = "tracked"
)

// ChangeSet represents one persisted group of change records for one entity
// mutation. Records carries the ordered field-level changes when loaded with
// detail; list queries leave it nil.
type ChangeSet struct {
	ID         string
	Kind       string // snake_case entity kind, e.g. "profile"
	EntityID   string
	Actor      string // API key name or OIDC subject; empty for anonymous writes
	Source     string // SourceAPI or SourceTracked
	RequestID  *string
	Metadata   map[string]interface{} // JSONB: caller-supplied context
	RecordedAt time.Time
	Records    []ChangeRecord
}

// ChangeRecord is one collapsed field change: the value before the first
// observed write and the value after the last. Position preserves the
// first-recorded ordering from the tracker.
type ChangeRecord struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
	Position int
}

// KindStat is one row of the per-kind aggregate returned by the stats query.
type KindStat struct {
	Kind    string `json:"kind"`
	Sets    int64  `json:"sets"`
	Records int64  `json:"records"`
}
