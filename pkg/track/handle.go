// handle.go implements Wrap and the interception handle: the read path that
// forwards to the target untouched, and the write path that consults the
// registry and feeds the tracker.
package track

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Handle wraps one target with change tracking. Reads and writes go to the
// target exactly as direct access would; the handle's only additions are the
// audit capabilities Changes, HasChanges, and ResetAudit, which are bound to
// the handle's private tracker and therefore shadow any same-named members of
// the target.
//
// The target keeps its identity: Target returns the original object, methods
// called on it see the real state, and writes made directly to the target,
// including writes its own methods perform, bypass tracking. Only writes
// through Set are observable. That boundary is deliberate.
//
// A Handle is not safe for concurrent use; see the package documentation.
type Handle struct {
	target  any
	value   reflect.Value // addressable struct value; invalid for documents
	doc     *Document     // non-nil for document targets
	tracker *Tracker
	reg     *Registry
	diag    Diagnostic
}

// Option adjusts Wrap behavior.
type Option func(*wrapOptions)

type wrapOptions struct {
	registry *Registry
	diag     Diagnostic
}

// WithRegistry makes the handle consult reg instead of the package default
// registry. Useful for tests and for callers that keep configuration
// explicit rather than process-wide.
func WithRegistry(reg *Registry) Option {
	return func(o *wrapOptions) { o.registry = reg }
}

// WithDiagnostic installs the sink for the handle's and its tracker's
// internal reports. It does not replace the registry's own sink.
func WithDiagnostic(d Diagnostic) Option {
	return func(o *wrapOptions) { o.diag = d }
}

// Wrap builds a tracking handle over target and allocates it a fresh tracker,
// so independent Wrap calls over the same object observe independently.
//
// target must be a non-nil pointer to a struct, or a *Document. Anything else
// fails with ErrInvalidTarget: nil, a nil pointer, and scalars are garbage to
// track, and a plain struct value is rejected too because its fields are not
// addressable, so no write through the handle could ever succeed.
func Wrap(target any, opts ...Option) (*Handle, error) {
	o := wrapOptions{diag: NopDiagnostic{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = defaultRegistry
	}

	if target == nil {
		return nil, fmt.Errorf("wrap: nil target: %w", ErrInvalidTarget)
	}

	h := &Handle{
		target:  target,
		tracker: NewTracker(),
		reg:     o.registry,
		diag:    o.diag,
	}
	h.tracker.diag = o.diag

	if doc, ok := target.(*Document); ok {
		if doc == nil {
			return nil, fmt.Errorf("wrap: nil document: %w", ErrInvalidTarget)
		}
		h.doc = doc
		return h, nil
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("wrap: target %T is not a pointer to struct: %w", target, ErrInvalidTarget)
	}
	if rv.IsNil() {
		return nil, fmt.Errorf("wrap: nil %T: %w", target, ErrInvalidTarget)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Struct {
		return nil, fmt.Errorf("wrap: target %T is not a pointer to struct: %w", target, ErrInvalidTarget)
	}
	h.value = elem
	return h, nil
}

// Get reads a field off the underlying target. Struct targets return
// ErrUnknownField for fields the type does not have; document targets are
// open-shaped, so an absent key reads as nil.
func (h *Handle) Get(field string) (any, error) {
	if h.doc != nil {
		v, _ := h.doc.Get(field)
		return v, nil
	}
	if !h.value.IsValid() {
		return nil, fmt.Errorf("get %q: handle has no target: %w", field, ErrInvalidTarget)
	}
	f := h.value.FieldByName(field)
	if !f.IsValid() {
		return nil, fmt.Errorf("get %q on %T: %w", field, h.target, ErrUnknownField)
	}
	if !f.CanInterface() {
		return nil, fmt.Errorf("get %q on %T: %w", field, h.target, ErrUnexportedField)
	}
	return f.Interface(), nil
}

// Set assigns value to field on the underlying target, recording a collapsed
// change when the registry tracks the field and the write actually changed it
// under same-value-zero equality. The order of operations is fixed: decide
// tracking, read the old value, assign, then record. An assignment failure is
// returned to the caller unchanged and records nothing, and a tracking-side
// failure never blocks the assignment itself.
func (h *Handle) Set(field string, value any) error {
	if field == "" {
		return fmt.Errorf("set: empty field name: %w", ErrUnknownField)
	}

	if h.doc != nil {
		tracked := h.fieldTracked(field)
		old, _ := h.doc.Get(field)
		h.doc.Set(field, value)
		if tracked {
			h.record(field, old, value)
		}
		return nil
	}

	if !h.value.IsValid() {
		return fmt.Errorf("set %q: handle has no target: %w", field, ErrInvalidTarget)
	}
	f := h.value.FieldByName(field)
	if !f.IsValid() {
		return fmt.Errorf("set %q on %T: %w", field, h.target, ErrUnknownField)
	}
	if !f.CanSet() {
		return fmt.Errorf("set %q on %T: %w", field, h.target, ErrUnexportedField)
	}
	nv, err := conform(value, f.Type())
	if err != nil {
		return fmt.Errorf("set %q on %T: %w", field, h.target, err)
	}

	tracked := h.fieldTracked(field)
	var old any
	if tracked {
		old = f.Interface()
	}
	f.Set(nv)
	if tracked {
		h.record(field, old, f.Interface())
	}
	return nil
}

// record runs the bookkeeping step behind a landed assignment. The write has
// already happened, so a panic in here is swallowed and reported rather than
// surfaced: tracking failures never undo or misreport the caller's mutation.
func (h *Handle) record(field string, old, now any) {
	defer func() {
		if p := recover(); p != nil {
			emit(h.diag, slog.LevelError, "handle: change recording failed",
				fmt.Errorf("%v", p), map[string]any{"field": field})
		}
	}()
	if !sameValueZero(old, now) {
		h.tracker.Record(field, old, now)
	}
}

// Changes returns the collapsed records accumulated since the handle was
// created or last reset, ordered by first write. The slice is the caller's to
// keep; later writes do not alter it.
func (h *Handle) Changes() []Change {
	if h.tracker == nil {
		return nil
	}
	return h.tracker.Changes()
}

// HasChanges reports in constant time whether any tracked write stuck.
func (h *Handle) HasChanges() bool {
	return h.tracker != nil && h.tracker.HasChanges()
}

// ResetAudit discards the accumulated records. Every value written to the
// target stays; only the bookkeeping is cleared. The handle remains usable
// and keeps accumulating from here on.
func (h *Handle) ResetAudit() {
	if h.tracker != nil {
		h.tracker.Reset()
	}
}

// Target returns the original wrapped object for type assertions, method
// calls, and identity comparisons.
func (h *Handle) Target() any {
	return h.target
}

// Fields enumerates the target's own field names: exported struct fields in
// declaration order, or document keys in first-set order.
func (h *Handle) Fields() []string {
	if h.doc != nil {
		return h.doc.Fields()
	}
	if !h.value.IsValid() {
		return nil
	}
	t := h.value.Type()
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); f.IsExported() {
			out = append(out, f.Name)
		}
	}
	return out
}

// fieldTracked consults the registry. A handle built by hand without a
// registry degrades to tracking nothing rather than failing the write.
func (h *Handle) fieldTracked(field string) bool {
	if h.reg == nil || h.tracker == nil {
		return false
	}
	return h.reg.FieldTracked(h.target, field)
}

// conform adapts value to the field type: exact and assignable types pass
// through, numeric kinds convert (JSON decoding hands every number over as
// float64), and nil maps to the zero value of nilable field types. Everything
// else is ErrUnassignable.
func conform(value any, ft reflect.Type) (reflect.Value, error) {
	if value == nil {
		switch ft.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
			return reflect.Zero(ft), nil
		}
		return reflect.Value{}, fmt.Errorf("nil into %s: %w", ft, ErrUnassignable)
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(ft) {
		return rv, nil
	}
	if isNumericKind(rv.Kind()) && isNumericKind(ft.Kind()) {
		return rv.Convert(ft), nil
	}
	return reflect.Value{}, fmt.Errorf("%s into %s: %w", rv.Type(), ft, ErrUnassignable)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
