package track

import (
	"log/slog"
	"testing"
)

// captureDiag records every emitted diagnostic for assertions.
type captureDiag struct {
	entries []capturedEntry
}

type capturedEntry struct {
	level  slog.Level
	msg    string
	err    error
	fields map[string]any
}

func (c *captureDiag) Emit(level slog.Level, msg string, err error, fields map[string]any) {
	c.entries = append(c.entries, capturedEntry{level: level, msg: msg, err: err, fields: fields})
}

func TestTrackerFirstWriteCreatesRecord(t *testing.T) {
	tr := NewTracker()
	tr.Record("name", "before", "after")

	changes := tr.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 record, got %d", len(changes))
	}
	c := changes[0]
	if c.Field != "name" || c.OldValue != "before" || c.NewValue != "after" {
		t.Errorf("unexpected record: %+v", c)
	}
}

func TestTrackerCollapsesToFirstOldLatestNew(t *testing.T) {
	tr := NewTracker()
	tr.Record("name", "a", "b")
	tr.Record("name", "b", "c")
	tr.Record("name", "c", "d")

	changes := tr.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 collapsed record, got %d", len(changes))
	}
	c := changes[0]
	if c.OldValue != "a" {
		t.Errorf("collapsing lost the first old value: got %v", c.OldValue)
	}
	if c.NewValue != "d" {
		t.Errorf("collapsing lost the latest new value: got %v", c.NewValue)
	}
}

func TestTrackerPreservesFirstWriteOrder(t *testing.T) {
	tr := NewTracker()
	tr.Record("b", 1, 2)
	tr.Record("a", 1, 2)
	tr.Record("c", 1, 2)
	tr.Record("a", 2, 3) // re-recording must not move "a"

	var got []string
	for _, c := range tr.Changes() {
		got = append(got, c.Field)
	}
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrackerChangesReturnsIndependentSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Record("name", "a", "b")

	first := tr.Changes()
	first[0] = Change{Field: "mangled"}

	second := tr.Changes()
	if second[0].Field != "name" || second[0].OldValue != "a" {
		t.Errorf("mutating a snapshot leaked into the tracker: %+v", second[0])
	}

	tr.Record("name", "b", "c")
	if second[0].NewValue != "b" {
		t.Errorf("later writes leaked into an earlier snapshot: %+v", second[0])
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.Record("a", 1, 2)
	tr.Record("b", 1, 2)

	tr.Reset()

	if tr.HasChanges() {
		t.Error("HasChanges true after Reset")
	}
	if len(tr.Changes()) != 0 {
		t.Errorf("expected no records after Reset, got %v", tr.Changes())
	}

	// the tracker keeps working after a reset
	tr.Record("a", 2, 3)
	changes := tr.Changes()
	if len(changes) != 1 || changes[0].OldValue != 2 {
		t.Errorf("tracker unusable after Reset: %v", changes)
	}
}

func TestTrackerHasChangesAndLen(t *testing.T) {
	tr := NewTracker()
	if tr.HasChanges() || tr.Len() != 0 {
		t.Error("fresh tracker reports changes")
	}
	tr.Record("a", 1, 2)
	tr.Record("a", 2, 3)
	tr.Record("b", 1, 2)
	if !tr.HasChanges() {
		t.Error("HasChanges false with records present")
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

func TestTrackerEmptyFieldNameIsDiagnosedNoOp(t *testing.T) {
	diag := &captureDiag{}
	tr := NewTracker()
	tr.diag = diag

	tr.Record("", "a", "b")

	if tr.HasChanges() {
		t.Error("empty field name created a record")
	}
	if len(diag.entries) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diag.entries))
	}
	if diag.entries[0].level != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", diag.entries[0].level)
	}
}
