// Package names folds person names for search and comparison.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Ménache" -> "Menache").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Fold normalizes a name for comparison: no diacritics, lowercase, dashes and
// runs of whitespace collapsed to single spaces.
func Fold(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// Contains reports whether query occurs in name after folding both. An empty
// query matches every name.
func Contains(name, query string) bool {
	q := Fold(query)
	if q == "" {
		return true
	}
	return strings.Contains(Fold(name), q)
}

// IsPlaceholder reports whether a name is empty or an auto-generated label
// such as "Unidentified Person 12".
func IsPlaceholder(name string) bool {
	f := Fold(name)
	return f == "" || strings.HasPrefix(f, "unidentified")
}
