package keyword

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Normalize returns the canonical form of a keyword: NFKC, lower case,
// single spaces and no surrounding whitespace
func Normalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = lower.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Dedupe normalizes keywords and drops empties and duplicates, keeping first-seen order
func Dedupe(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		n := Normalize(kw)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
