// applier.go applies a validated policy to the registry by diffing against
// the previously applied policy and issuing only the changed toggles.
package policy

import (
	"log/slog"
	"sync"

	"github.com/juju/collections/set"

	"github.com/fieldtrace/fieldtrace/pkg/track"
)

// Applier holds the currently applied policy for one registry.
type Applier struct {
	registry *track.Registry

	mu      sync.Mutex
	current *Policy
}

// NewApplier creates an Applier over the given registry.
func NewApplier(registry *track.Registry) *Applier {
	return &Applier{registry: registry}
}

// Current returns the currently applied policy, or nil before the first Apply.
func (a *Applier) Current() *Policy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Apply installs p, issuing the set differences between the previously
// applied policy and p as registry toggles. Kinds absent from p that were
// present before are fully cleared. Toggles are idempotent, so applying the
// same policy twice issues no effective change.
func (a *Applier) Apply(p *Policy) {
	a.mu.Lock()
	defer a.mu.Unlock()

	previous := a.current

	for kind, next := range p.Kinds {
		var prev KindPolicy
		if previous != nil {
			prev = previous.Kinds[kind]
		}
		a.applyKind(kind, prev, next)
	}

	// Clear kinds the new policy no longer declares.
	if previous != nil {
		for kind, prev := range previous.Kinds {
			if _, still := p.Kinds[kind]; !still {
				a.applyKind(kind, prev, KindPolicy{})
			}
		}
	}

	a.current = p
	slog.Info("tracking policy applied", "version", p.Version, "kinds", len(p.Kinds))
}

// applyKind issues the toggle delta for one kind.
func (a *Applier) applyKind(kind string, prev, next KindPolicy) {
	applyFieldDelta(prev.trackSet(), next.trackSet(), func(field string, on bool) {
		a.registry.SetFieldTracked(kind, field, on)
	})
	applyFieldDelta(prev.ignoreSet(), next.ignoreSet(), func(field string, on bool) {
		a.registry.SetFieldIgnored(kind, field, on)
	})
	if prev.AuditAll != next.AuditAll {
		a.registry.SetClassAudit(kind, next.AuditAll)
	}
}

// applyFieldDelta issues toggle(field, true) for additions and
// toggle(field, false) for removals between two field sets.
func applyFieldDelta(prev, next set.Strings, toggle func(field string, on bool)) {
	for _, field := range next.Difference(prev).SortedValues() {
		toggle(field, true)
	}
	for _, field := range prev.Difference(next).SortedValues() {
		toggle(field, false)
	}
}
