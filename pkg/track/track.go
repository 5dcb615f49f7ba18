// Package track implements transparent, opt-in change tracking for mutable
// objects: wrap an object, mark some of its fields (or the whole type) as
// tracked, and every write made through the wrapper to a tracked field is
// collapsed into a before/after record without altering the object's
// behavior. The accumulated change set is retrieved later, typically to
// persist an audit trail alongside a business transaction.
//
// The engine has three parts. A Registry stores per-type configuration:
// tracked fields, ignored fields (ignore always wins), and the class-level
// audit flag. A Tracker collapses writes into at most one record per field,
// keeping the first old value and the latest new value. Wrap ties the two
// together behind a Handle whose Set path decides, reads, assigns, and
// records, in that order. A value-preserving write, judged by same-value-zero
// equality where NaN equals NaN but positive and negative zero differ, is
// never recorded.
//
//	type Profile struct {
//		Name   string `audit:"track"`
//		Email  string `audit:"track"`
//		Secret string `audit:"ignore"`
//	}
//
//	if err := track.RegisterType(Profile{}); err != nil {
//		...
//	}
//	p := Profile{Name: "before"}
//	h, err := track.Wrap(&p)
//	if err != nil {
//		...
//	}
//	_ = h.Set("Name", "after")
//	for _, c := range h.Changes() {
//		fmt.Println(c.Field, c.OldValue, c.NewValue)
//	}
//
// Errors follow a two-tier policy. Wrap and RegisterType are loud boundaries,
// and Set propagates the caller's own assignment failures. Everything inside
// the machinery degrades instead: lookups fall back to safe defaults and the
// problem goes to an injectable Diagnostic sink that is disabled by default.
// A tracking failure never prevents or alters the underlying mutation.
//
// Dynamic shapes use Document, a map-backed target keyed in the registry by
// its declared kind string rather than by Go type.
package track

import "github.com/juju/collections/set"

// defaultRegistry backs the package-level functions. Callers that want
// isolated configuration build their own with NewRegistry and pass it to
// Wrap via WithRegistry.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when Wrap is called
// without WithRegistry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterType reads prototype's audit struct tags into the default registry.
func RegisterType(prototype any) error {
	return defaultRegistry.RegisterType(prototype)
}

// SetFieldTracked toggles tracking of field for class in the default registry.
func SetFieldTracked(class any, field string, tracked bool) {
	defaultRegistry.SetFieldTracked(class, field, tracked)
}

// SetFieldIgnored toggles ignoring of field for class in the default registry.
func SetFieldIgnored(class any, field string, ignored bool) {
	defaultRegistry.SetFieldIgnored(class, field, ignored)
}

// SetClassAudit toggles class-level audit for class in the default registry.
func SetClassAudit(class any, enabled bool) {
	defaultRegistry.SetClassAudit(class, enabled)
}

// TrackedFields queries the default registry for the fields tracked on
// instance's class.
func TrackedFields(instance any) set.Strings {
	return defaultRegistry.TrackedFields(instance)
}

// FieldTracked queries the default registry for a single field.
func FieldTracked(instance any, field string) bool {
	return defaultRegistry.FieldTracked(instance, field)
}
