// registry.go implements the process-wide audit configuration store. A
// configuration is keyed by class identity, the struct type for typed targets
// or the declared kind for documents, so every instance of a class shares one
// configuration and changes are visible to all existing and future handles
// immediately.
package track

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/juju/collections/set"
)

// auditConfig is the per-class record: explicitly tracked fields, explicitly
// ignored fields, and the class-level audit flag. Ignored always wins over
// both tracked and class-level audit for a given field name.
type auditConfig struct {
	tracked  set.Strings
	ignored  set.Strings
	auditAll bool
}

func newAuditConfig() *auditConfig {
	return &auditConfig{
		tracked: set.NewStrings(),
		ignored: set.NewStrings(),
	}
}

// valid reports whether a stored record still has the shape the registry
// created it with. Lookups discard and replace anything that fails this
// check rather than trusting it.
func (c *auditConfig) valid() bool {
	return c != nil && c.tracked != nil && c.ignored != nil
}

// Registry maps class identities to audit configurations. The zero value is
// not usable; call NewRegistry. A Registry is safe for concurrent use:
// configuration toggles are idempotent set operations under a write lock, and
// readers see a stale-but-valid view at worst.
//
// Configuration mistakes never propagate as errors. Invalid class references
// and empty field names are reported to the diagnostic sink and dropped, and
// a corrupted stored record is replaced with a fresh default on the next
// lookup. Wrap-time validation is the only loud boundary in this package.
type Registry struct {
	mu      sync.RWMutex
	configs map[any]*auditConfig
	diag    Diagnostic
}

// NewRegistry returns an empty registry with diagnostics disabled.
func NewRegistry() *Registry {
	return &Registry{
		configs: make(map[any]*auditConfig),
		diag:    NopDiagnostic{},
	}
}

// SetDiagnostic installs the sink receiving the registry's internal reports.
func (r *Registry) SetDiagnostic(d Diagnostic) {
	if d == nil {
		d = NopDiagnostic{}
	}
	r.mu.Lock()
	r.diag = d
	r.mu.Unlock()
}

func (r *Registry) diagnostic() Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.diag
}

// SetFieldTracked idempotently adds field to (or removes it from) the tracked
// set of the class identified by class. Invalid input is reported and
// dropped, never raised.
func (r *Registry) SetFieldTracked(class any, field string, tracked bool) {
	key, ok := r.toggleKey(class, field)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.configLocked(key)
	if tracked {
		cfg.tracked.Add(field)
	} else {
		cfg.tracked.Remove(field)
	}
}

// SetFieldIgnored idempotently adds field to (or removes it from) the ignored
// set of the class. An ignored field is never tracked, regardless of the
// tracked set or the class-level audit flag.
func (r *Registry) SetFieldIgnored(class any, field string, ignored bool) {
	key, ok := r.toggleKey(class, field)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.configLocked(key)
	if ignored {
		cfg.ignored.Add(field)
	} else {
		cfg.ignored.Remove(field)
	}
}

// SetClassAudit enables or disables class-level audit: when enabled, every
// own field of an instance is tracked by default, minus the ignored set.
func (r *Registry) SetClassAudit(class any, enabled bool) {
	key, err := classKey(class)
	if err != nil {
		emit(r.diagnostic(), slog.LevelWarn, "audit registry: invalid class reference", err, nil)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configLocked(key).auditAll = enabled
}

// TrackedFields returns the field names currently tracked for the instance's
// class: the explicit tracked set, plus every own field of the instance when
// class-level audit is enabled, minus the ignored set. It never fails: on an
// internal error it degrades to whatever subset it could still compute, with
// an empty set as the last resort, and reports the problem to the diagnostic
// sink.
func (r *Registry) TrackedFields(instance any) (fields set.Strings) {
	defer func() {
		if p := recover(); p != nil {
			emit(r.diagnostic(), slog.LevelError, "audit registry: lookup panicked", fmt.Errorf("%v", p), nil)
			fields = set.NewStrings()
		}
	}()

	key, err := classKey(instance)
	if err != nil {
		emit(r.diagnostic(), slog.LevelWarn, "audit registry: invalid instance", err, nil)
		return set.NewStrings()
	}

	tracked, ignored, auditAll := r.snapshot(key)
	if auditAll {
		own, err := enumerateFields(instance)
		if err != nil {
			emit(r.diagnostic(), slog.LevelWarn, "audit registry: field enumeration failed", err,
				map[string]any{"class": keyName(key)})
		} else {
			tracked = tracked.Union(own)
		}
	}
	return tracked.Difference(ignored)
}

// FieldTracked reports whether a write to field on instance should be
// recorded. Degrades to false on any internal failure.
func (r *Registry) FieldTracked(instance any, field string) bool {
	if field == "" {
		return false
	}
	return r.TrackedFields(instance).Contains(field)
}

// toggleKey validates the class/field pair shared by the two field toggles.
func (r *Registry) toggleKey(class any, field string) (any, bool) {
	key, err := classKey(class)
	if err != nil {
		emit(r.diagnostic(), slog.LevelWarn, "audit registry: invalid class reference", err,
			map[string]any{"field": field})
		return nil, false
	}
	if field == "" {
		emit(r.diagnostic(), slog.LevelWarn, "audit registry: empty field name", nil,
			map[string]any{"class": keyName(key)})
		return nil, false
	}
	return key, true
}

// configLocked returns the stored record for key, lazily creating the
// implicit empty default. A stored record that lost its shape is replaced
// with a fresh default and reported, so one bad entry cannot poison later
// lookups. Caller holds the write lock.
func (r *Registry) configLocked(key any) *auditConfig {
	cfg, ok := r.configs[key]
	if ok && cfg.valid() {
		return cfg
	}
	if ok {
		emit(r.diag, slog.LevelWarn, "audit registry: discarded corrupted configuration",
			nil, map[string]any{"class": keyName(key)})
	}
	cfg = newAuditConfig()
	r.configs[key] = cfg
	return cfg
}

// snapshot copies the record for key without mutating the registry on the
// fast path. A missing entry reads as the implicit empty default; a corrupted
// entry is healed under the write lock and read as the default.
func (r *Registry) snapshot(key any) (tracked, ignored set.Strings, auditAll bool) {
	r.mu.RLock()
	cfg, ok := r.configs[key]
	if ok && cfg.valid() {
		tracked = set.NewStrings(cfg.tracked.Values()...)
		ignored = set.NewStrings(cfg.ignored.Values()...)
		auditAll = cfg.auditAll
		r.mu.RUnlock()
		return tracked, ignored, auditAll
	}
	r.mu.RUnlock()

	if ok {
		r.mu.Lock()
		if stored, still := r.configs[key]; still && !stored.valid() {
			r.configs[key] = newAuditConfig()
		}
		r.mu.Unlock()
		emit(r.diagnostic(), slog.LevelWarn, "audit registry: discarded corrupted configuration",
			nil, map[string]any{"class": keyName(key)})
	}
	return set.NewStrings(), set.NewStrings(), false
}

// classKey resolves a class reference or instance to its registry identity:
// the indirected struct type for typed targets, the declared kind for
// documents, or the value itself when a reflect.Type or kind string is passed
// directly.
func classKey(class any) (any, error) {
	switch v := class.(type) {
	case nil:
		return nil, fmt.Errorf("nil class reference")
	case string:
		if v == "" {
			return nil, fmt.Errorf("empty kind")
		}
		return v, nil
	case reflect.Type:
		if v == nil {
			return nil, fmt.Errorf("nil reflect.Type")
		}
		return indirectType(v), nil
	case *Document:
		if v == nil {
			return nil, fmt.Errorf("nil document")
		}
		if v.kind == "" {
			return nil, fmt.Errorf("document without kind")
		}
		return v.kind, nil
	case Document:
		if v.kind == "" {
			return nil, fmt.Errorf("document without kind")
		}
		return v.kind, nil
	}
	t := indirectType(reflect.TypeOf(class))
	if t == nil {
		return nil, fmt.Errorf("untyped class reference")
	}
	return t, nil
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// keyName renders a registry key for diagnostics.
func keyName(key any) string {
	switch v := key.(type) {
	case reflect.Type:
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// enumerateFields lists the own field names of an instance: exported struct
// fields for typed targets, current keys for documents.
func enumerateFields(instance any) (set.Strings, error) {
	switch v := instance.(type) {
	case *Document:
		if v == nil {
			return nil, fmt.Errorf("nil document")
		}
		return set.NewStrings(v.Fields()...), nil
	case Document:
		return set.NewStrings(v.Fields()...), nil
	}
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%T has no enumerable fields", instance)
	}
	out := set.NewStrings()
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			out.Add(f.Name)
		}
	}
	return out, nil
}
