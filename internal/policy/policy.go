// Package policy loads the declarative tracking policy and applies it to a
// track.Registry. A policy file declares, per entity kind, which fields are
// tracked or ignored:
//
//	version: "1.2"
//	kinds:
//	  profile: {audit_all: true, ignore: [secret]}
//	  invoice: {track: [status, amount_cents]}
//
// Files are validated against an embedded JSON schema and a supported-version
// range before anything touches the registry, so a bad file can never apply
// half a policy. Application is differential: only toggles that changed since
// the previously applied policy are issued, and toggles are idempotent, so
// re-applying the same file is a no-op.
package policy

import (
	_ "embed"
	"fmt"
	"os"

	version "github.com/hashicorp/go-version"
	"github.com/juju/collections/set"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// SupportedVersions is the range of policy file versions this build accepts.
// The major version changes only when the file format changes incompatibly.
const SupportedVersions = ">= 1.0, < 2.0"

// Policy is a parsed, validated tracking policy file.
type Policy struct {
	Version string                `yaml:"version"`
	Kinds   map[string]KindPolicy `yaml:"kinds"`
}

// KindPolicy declares tracking for one entity kind. Ignore always wins over
// both Track and AuditAll.
type KindPolicy struct {
	AuditAll bool     `yaml:"audit_all"`
	Track    []string `yaml:"track"`
	Ignore   []string `yaml:"ignore"`
}

// Load reads and validates a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML against the schema and version gate and returns
// the parsed policy.
func Parse(data []byte) (*Policy, error) {
	// Schema validation runs on the generic YAML document so unknown keys and
	// wrong types are reported by path, before struct decoding discards them.
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(generic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run policy schema validation: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("policy file is invalid: %s", formatSchemaErrors(result))
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	if err := checkVersion(p.Version); err != nil {
		return nil, err
	}

	return &p, nil
}

func checkVersion(raw string) error {
	v, err := version.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid policy version %q: %w", raw, err)
	}
	constraint, err := version.NewConstraint(SupportedVersions)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("unsupported policy version %s (supported: %s)", raw, SupportedVersions)
	}
	return nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, resErr := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += resErr.String()
	}
	return msg
}

// trackSet returns the declared tracked fields as a set.
func (k KindPolicy) trackSet() set.Strings {
	return set.NewStrings(k.Track...)
}

// ignoreSet returns the declared ignored fields as a set.
func (k KindPolicy) ignoreSet() set.Strings {
	return set.NewStrings(k.Ignore...)
}
