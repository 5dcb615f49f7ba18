// Package naming converts between Go identifiers and the wire names used by the
// audit API and the tracking policy file. Entity kinds are snake_case singular
// ("profile", "invoice_line"); collection names are their plurals; field names
// in persisted change records are the snake_case form of the Go field name.
// Keeping the conversion in one package means the policy loader, the API
// handlers, and the recorder all agree on identity without each re-implementing
// case rules.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Kind returns the canonical entity kind for a type or collection name:
// snake_case and singular. "UserProfiles" → "user_profile".
func Kind(name string) string {
	return inflection.Singular(Snake(name))
}

// Collection returns the plural collection name for a kind.
// "user_profile" → "user_profiles".
func Collection(kind string) string {
	return inflection.Plural(Snake(kind))
}

// Snake converts a Go identifier to snake_case. Runs of upper-case letters are
// treated as one word, so "HTTPPort" → "http_port" and "EntityID" → "entity_id".
func Snake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (nextLower && !isSeparator(runes[i-1]))) && !isSeparator(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if isSeparator(r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

func isSeparator(r rune) bool {
	return r == '_' || r == '-' || r == ' ' || r == '.'
}
