// equality.go implements the same-value-zero comparison deciding whether a
// write is a no-op: NaN equals NaN, positive and negative zero are distinct.
package track

import (
	"math"
	"reflect"
)

// sameValueZero reports whether writing b over a would leave the field
// value-identical for auditing purposes. Floats follow same-value-zero
// semantics, values of different dynamic types never match, comparable types
// use ordinary equality, and uncomparable composites fall back to deep
// equality because Go offers no identity comparison for them. The NaN and
// signed-zero rules apply to the top-level scalar comparison only; nested
// mutation is outside the engine's scope.
func sameValueZero(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && floatSameValueZero(av, bv)
	case float32:
		bv, ok := b.(float32)
		return ok && floatSameValueZero(float64(av), float64(bv))
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func floatSameValueZero(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if a == 0 && b == 0 {
		return math.Signbit(a) == math.Signbit(b)
	}
	return a == b
}
