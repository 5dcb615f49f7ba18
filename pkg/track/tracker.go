// tracker.go implements the change-collapsing accumulator behind every
// handle. The tracker is deliberately dumb: no I/O, no knowledge of the
// wrapped type or the registry, just a collapsing map with stable ordering.
package track

import "log/slog"

// Change is one collapsed field mutation. OldValue is the field value before
// the first observed write, NewValue the value after the most recent one.
// Values are plain data; a Change is safe to serialize and hand to storage or
// transport layers as is.
type Change struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// Tracker accumulates at most one Change per field for the lifetime of one
// handle. "What changed since observation began", not a history: the first
// old value is preserved across the whole lifetime while only the newest
// value is kept.
//
// A Tracker is not safe for concurrent use. Each handle owns exactly one, and
// the first-old/last-new guarantee assumes writes arrive in a total order.
type Tracker struct {
	records map[string]Change
	order   []string
	diag    Diagnostic
}

// NewTracker returns an empty tracker with diagnostics disabled.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]Change),
		diag:    NopDiagnostic{},
	}
}

// Record merges one observed write into the collapsed set. The first write to
// a field creates its record; later writes keep the original OldValue and
// replace NewValue. An empty field name is reported to the diagnostic sink
// and otherwise ignored.
func (t *Tracker) Record(field string, oldValue, newValue any) {
	if field == "" {
		emit(t.diag, slog.LevelWarn, "tracker: ignoring record with empty field name", nil, nil)
		return
	}
	if existing, ok := t.records[field]; ok {
		t.records[field] = Change{Field: field, OldValue: existing.OldValue, NewValue: newValue}
		return
	}
	t.records[field] = Change{Field: field, OldValue: oldValue, NewValue: newValue}
	t.order = append(t.order, field)
}

// Changes returns an independent snapshot of the collapsed records, ordered
// by first write. Mutating the returned slice does not affect the tracker.
func (t *Tracker) Changes() []Change {
	out := make([]Change, 0, len(t.order))
	for _, field := range t.order {
		out = append(out, t.records[field])
	}
	return out
}

// Reset discards every accumulated record. The wrapped object is untouched.
func (t *Tracker) Reset() {
	t.records = make(map[string]Change)
	t.order = t.order[:0]
}

// HasChanges reports in constant time whether any record exists.
func (t *Tracker) HasChanges() bool {
	return len(t.records) > 0
}

// Len returns the number of collapsed records.
func (t *Tracker) Len() int {
	return len(t.records)
}
