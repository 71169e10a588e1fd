package consensus

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritics so "Tecnología" and "Tecnologia"
// compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeScalar canonicalizes a scalar value for agreement checks:
// lowercase, diacritic-folded, trimmed, with URL noise stripped.
func normalizeScalar(value any) string {
	s := fmt.Sprintf("%v", value)
	s = strings.TrimSpace(strings.ToLower(s))
	if folded, _, err := transform.String(foldTransformer, s); err == nil {
		s = folded
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, "/")
	return s
}

// normalizeListItem canonicalizes one element of a list field (email,
// phone): for phones every non-digit except a leading + is dropped.
func normalizeListItem(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return s
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	// Heuristic: mostly digits means a phone number.
	if len(digits) >= 7 && len(digits)*2 >= len(s) {
		if strings.HasPrefix(s, "+") {
			return "+" + digits
		}
		return digits
	}
	return s
}
