// errors.go defines the sentinel errors returned at the package boundaries.
// Everything else inside the engine degrades instead of failing; see the
// package documentation for the two-tier error policy.
package track

import "errors"

var (
	// ErrInvalidTarget is returned by Wrap when the target is nil or not a
	// wrappable object. This is the one place the engine fails loudly rather
	// than degrading, because a handle over a garbage target would be
	// silently useless.
	ErrInvalidTarget = errors.New("invalid wrap target")

	// ErrUnknownField is returned by Get and Set for a field the target type
	// does not have.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnexportedField is returned when a field exists but cannot be read
	// or written through the handle, and by RegisterType when an audit tag
	// sits on an unexported field.
	ErrUnexportedField = errors.New("unexported field")

	// ErrUnassignable is returned by Set when the value cannot be stored in
	// the field.
	ErrUnassignable = errors.New("unassignable value")

	// ErrNotStruct is returned by RegisterType when the prototype is not a
	// struct or pointer to struct.
	ErrNotStruct = errors.New("prototype is not a struct")
)
