package track

import (
	"math"
	"testing"
)

func TestSameValueZero(t *testing.T) {
	n := 5
	p := &n

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"value vs nil", "x", nil, false},
		{"equal strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"equal ints", 3, 3, true},
		{"different ints", 3, 4, false},
		{"int vs int64 never match", int(3), int64(3), false},
		{"equal bools", true, true, true},
		{"nan equals nan", math.NaN(), math.NaN(), true},
		{"plus zero vs minus zero", 0.0, math.Copysign(0, -1), false},
		{"minus zero vs plus zero", math.Copysign(0, -1), 0.0, false},
		{"minus zero vs minus zero", math.Copysign(0, -1), math.Copysign(0, -1), true},
		{"equal floats", 1.5, 1.5, true},
		{"different floats", 1.5, 2.5, false},
		{"float32 nan equals nan", float32(math.NaN()), float32(math.NaN()), true},
		{"float32 signed zero", float32(0), float32(math.Copysign(0, -1)), false},
		{"float64 vs float32 never match", 1.0, float32(1.0), false},
		{"float vs string", 1.0, "1", false},
		{"same pointer", p, p, true},
		{"equal slices compare deep", []string{"a", "b"}, []string{"a", "b"}, true},
		{"different slices", []string{"a"}, []string{"b"}, false},
		{"equal maps compare deep", map[string]int{"a": 1}, map[string]int{"a": 1}, true},
		{"different maps", map[string]int{"a": 1}, map[string]int{"a": 2}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sameValueZero(tc.a, tc.b); got != tc.want {
				t.Errorf("sameValueZero(%#v, %#v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSameValueZeroIsSymmetricForFloats(t *testing.T) {
	pairs := [][2]float64{
		{math.NaN(), math.NaN()},
		{0, math.Copysign(0, -1)},
		{1.25, 1.25},
		{1.25, -1.25},
	}
	for _, pair := range pairs {
		ab := sameValueZero(pair[0], pair[1])
		ba := sameValueZero(pair[1], pair[0])
		if ab != ba {
			t.Errorf("sameValueZero not symmetric for %v, %v: %v vs %v", pair[0], pair[1], ab, ba)
		}
	}
}
