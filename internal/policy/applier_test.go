package policy

import (
	"testing"

	"github.com/fieldtrace/fieldtrace/pkg/track"
)

func mustParse(t *testing.T, input string) *Policy {
	t.Helper()
	p, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestApply_TracksDeclaredFields(t *testing.T) {
	reg := track.NewRegistry()
	applier := NewApplier(reg)

	applier.Apply(mustParse(t, `
version: "1.0"
kinds:
  invoice:
    track: [status, amount_cents]
`))

	doc := track.NewDocument("invoice")
	fields := reg.TrackedFields(doc)
	if !fields.Contains("status") || !fields.Contains("amount_cents") {
		t.Errorf("tracked fields = %v, want status and amount_cents", fields.SortedValues())
	}
	if fields.Contains("notes") {
		t.Error("undeclared field tracked")
	}
}

func TestApply_AuditAllWithIgnore(t *testing.T) {
	reg := track.NewRegistry()
	applier := NewApplier(reg)

	applier.Apply(mustParse(t, `
version: "1.0"
kinds:
  profile:
    audit_all: true
    ignore: [password_hash]
`))

	doc := track.NewDocument("profile")
	doc.Set("email", "a@example.com")
	doc.Set("password_hash", "x")

	fields := reg.TrackedFields(doc)
	if !fields.Contains("email") {
		t.Error("email not tracked under audit_all")
	}
	if fields.Contains("password_hash") {
		t.Error("ignored field tracked")
	}
}

func TestApply_RemovalsClearToggles(t *testing.T) {
	reg := track.NewRegistry()
	applier := NewApplier(reg)

	applier.Apply(mustParse(t, `
version: "1.0"
kinds:
  invoice:
    track: [status, amount_cents]
`))

	// Second revision drops amount_cents.
	applier.Apply(mustParse(t, `
version: "1.1"
kinds:
  invoice:
    track: [status]
`))

	doc := track.NewDocument("invoice")
	fields := reg.TrackedFields(doc)
	if !fields.Contains("status") {
		t.Error("status no longer tracked")
	}
	if fields.Contains("amount_cents") {
		t.Error("removed field still tracked")
	}
}

func TestApply_DroppedKindCleared(t *testing.T) {
	reg := track.NewRegistry()
	applier := NewApplier(reg)

	applier.Apply(mustParse(t, `
version: "1.0"
kinds:
  profile:
    audit_all: true
  invoice:
    track: [status]
`))

	applier.Apply(mustParse(t, `
version: "1.1"
kinds:
  invoice:
    track: [status]
`))

	profile := track.NewDocument("profile")
	profile.Set("email", "a@example.com")
	if fields := reg.TrackedFields(profile); !fields.IsEmpty() {
		t.Errorf("dropped kind still tracked: %v", fields.SortedValues())
	}

	invoice := track.NewDocument("invoice")
	if !reg.FieldTracked(invoice, "status") {
		t.Error("surviving kind lost its tracking")
	}
}

func TestApply_Idempotent(t *testing.T) {
	reg := track.NewRegistry()
	applier := NewApplier(reg)

	p := mustParse(t, `
version: "1.0"
kinds:
  invoice:
    track: [status]
`)
	applier.Apply(p)
	applier.Apply(p)

	doc := track.NewDocument("invoice")
	fields := reg.TrackedFields(doc)
	if fields.Size() != 1 || !fields.Contains("status") {
		t.Errorf("tracked fields = %v, want exactly [status]", fields.SortedValues())
	}
}

func TestCurrent(t *testing.T) {
	applier := NewApplier(track.NewRegistry())
	if applier.Current() != nil {
		t.Error("Current before first Apply should be nil")
	}

	p := mustParse(t, "version: \"1.0\"\nkinds: {}")
	applier.Apply(p)
	if applier.Current() != p {
		t.Error("Current does not return the applied policy")
	}
}
