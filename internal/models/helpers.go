package models

import (
	"strings"
	"unicode"
)

// Slugify lowercases s and turns it into a system-safe identifier:
// spaces and underscores become dashes, anything else that is not an ASCII
// letter, digit or dash is dropped.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ' ' || r == '_':
			b.WriteByte('-')
		case r == '-':
			b.WriteByte('-')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SystemName derives a snake_case identifier from a display name, the form
// destination entities use for their system names.
func SystemName(s string) string {
	return strings.ReplaceAll(strings.Trim(Slugify(s), "-"), "-", "_")
}
