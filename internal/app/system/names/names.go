// Package names cleans and validates file and folder names.
package names

import (
	"html"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/microcosm-cc/bluemonday"
)

// MaxLen is the longest name accepted, in characters.
const MaxLen = 255

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Clean strips markup and control characters and trims whitespace. Names are
// shown in listings and notification emails, so nothing that renders as HTML
// survives.
func Clean(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.ContainsAny(name, "<>&") {
		// StrictPolicy escapes what it keeps; names are stored unescaped.
		name = html.UnescapeString(getPolicy().Sanitize(name))
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}

// Validate cleans name and checks it can be stored. The returned name is the
// one to persist.
func Validate(name string) (string, error) {
	clean := Clean(name)
	switch {
	case clean == "":
		return "", apperr.Invalid("name is required")
	case utf8.RuneCountInString(clean) > MaxLen:
		return "", apperr.Invalid("name must be at most %d characters", MaxLen)
	case clean == "." || clean == "..":
		return "", apperr.Invalid("name %q is reserved", clean)
	case strings.ContainsAny(clean, `/\`):
		return "", apperr.Invalid("name must not contain slashes")
	}
	return clean, nil
}

// Ext returns the lowercase extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
