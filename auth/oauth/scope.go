package oauth

import (
	"slices"
	"strings"
)

// CanonicalizeScope dedupes and sorts a space-separated scope string.
func CanonicalizeScope(scope string) string {
	return strings.Join(scopeList(scope), " ")
}

func scopeList(scope string) []string {
	fields := strings.Fields(scope)
	slices.Sort(fields)
	return slices.Compact(fields)
}

// HasScope reports whether a space-separated scope string includes s.
func HasScope(scope, s string) bool {
	return slices.Contains(strings.Fields(scope), s)
}
