// tags.go implements struct tag processing, the declarative way to populate
// a registry alongside a type definition:
//
//	type Profile struct {
//		Name   string `audit:"track"`
//		Email  string `audit:"track"`
//		Secret string `audit:"ignore"`
//	}
//
// Tags are read once, at registration time. Class-level audit has no tag
// spelling; enable it with SetClassAudit or through a policy file.
package track

import (
	"fmt"
	"reflect"
	"strings"
)

// tagName is the struct tag key the processor reads.
const tagName = "audit"

const (
	tagTrack  = "track"
	tagIgnore = "ignore"
)

// RegisterType reads the audit struct tags of prototype's type into the
// registry. Valid values are "track", "ignore", and the stacked
// "track,ignore", where ignore wins, matching the registry precedence rule.
//
// Registration is a setup boundary and fails loudly: a prototype that is not
// a struct returns ErrNotStruct, an audit tag on an unexported field returns
// ErrUnexportedField because no handle write can ever reach such a field, and
// an unrecognized tag value is an error rather than a silent no-op.
func (r *Registry) RegisterType(prototype any) error {
	if prototype == nil {
		return fmt.Errorf("register type: nil prototype: %w", ErrNotStruct)
	}
	t := indirectType(reflect.TypeOf(prototype))
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("register type %T: %w", prototype, ErrNotStruct)
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		raw, ok := f.Tag.Lookup(tagName)
		if !ok {
			continue
		}
		if !f.IsExported() {
			return fmt.Errorf("register type %s: audit tag on %s: %w", t, f.Name, ErrUnexportedField)
		}

		var tracked, ignored bool
		for _, part := range strings.Split(raw, ",") {
			switch strings.TrimSpace(part) {
			case tagTrack:
				tracked = true
			case tagIgnore:
				ignored = true
			case "":
			default:
				return fmt.Errorf("register type %s: field %s: unknown audit tag value %q", t, f.Name, part)
			}
		}
		if tracked {
			r.SetFieldTracked(t, f.Name, true)
		}
		if ignored {
			r.SetFieldIgnored(t, f.Name, true)
		}
	}
	return nil
}
