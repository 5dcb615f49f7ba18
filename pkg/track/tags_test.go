package track

import (
	"errors"
	"testing"
)

type taggedProfile struct {
	Name     string `audit:"track"`
	Email    string `audit:"track"`
	Secret   string `audit:"ignore"`
	Both     string `audit:"track,ignore"`
	Untagged string
}

func TestRegisterTypeReadsTags(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterType(taggedProfile{}); err != nil {
		t.Fatalf("RegisterType: %v", err)
	}

	if !reg.FieldTracked(&taggedProfile{}, "Name") || !reg.FieldTracked(&taggedProfile{}, "Email") {
		t.Error("tracked tags not applied")
	}
	if reg.FieldTracked(&taggedProfile{}, "Secret") {
		t.Error("ignore tag did not exclude Secret")
	}
	if reg.FieldTracked(&taggedProfile{}, "Untagged") {
		t.Error("untagged field tracked")
	}
}

func TestRegisterTypeStackedTagIgnoreWins(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterType(taggedProfile{}); err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	if reg.FieldTracked(&taggedProfile{}, "Both") {
		t.Error(`"track,ignore" tag tracked the field; ignore must win`)
	}

	// the tracked mark is still stored underneath and surfaces if the
	// ignore is lifted later
	reg.SetFieldIgnored(taggedProfile{}, "Both", false)
	if !reg.FieldTracked(&taggedProfile{}, "Both") {
		t.Error("stacked tag lost the tracked mark")
	}
}

func TestRegisterTypeAcceptsPointerPrototype(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterType(&taggedProfile{}); err != nil {
		t.Fatalf("RegisterType(&T{}): %v", err)
	}
	if !reg.FieldTracked(&taggedProfile{}, "Name") {
		t.Error("pointer prototype did not register")
	}
}

func TestRegisterTypeRejectsNonStruct(t *testing.T) {
	reg := NewRegistry()
	for _, prototype := range []any{nil, 42, "profile", []string{"a"}} {
		err := reg.RegisterType(prototype)
		if !errors.Is(err, ErrNotStruct) {
			t.Errorf("RegisterType(%#v) = %v, want ErrNotStruct", prototype, err)
		}
	}
}

func TestRegisterTypeRejectsTagOnUnexportedField(t *testing.T) {
	type sneaky struct {
		secret string `audit:"track"`
	}
	reg := NewRegistry()
	err := reg.RegisterType(sneaky{})
	if !errors.Is(err, ErrUnexportedField) {
		t.Errorf("RegisterType = %v, want ErrUnexportedField", err)
	}
	_ = sneaky{}
}

func TestRegisterTypeRejectsUnknownTagValue(t *testing.T) {
	type typoed struct {
		Name string `audit:"tracked"`
	}
	reg := NewRegistry()
	if err := reg.RegisterType(typoed{}); err == nil {
		t.Error("unknown tag value registered silently")
	}
}
