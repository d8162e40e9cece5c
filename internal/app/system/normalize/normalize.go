// Package normalize canonicalizes user-supplied identifiers before they are
// stored or compared. Item names are not handled here; see package names.
package normalize

import "strings"

// Email trims and lowercases an email address. Account lookups and the
// unique email index both rely on this form.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims a display name. Case is preserved.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Status lowercases an account status.
func Status(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Role lowercases an account role.
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Permission lowercases a share tier as sent by clients ("Read", " WRITE ").
func Permission(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// QueryParam trims a query parameter and collapses inner runs of whitespace,
// so a search for "  annual   report " matches "annual report".
func QueryParam(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
