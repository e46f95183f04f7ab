// Package textnorm canonicalizes titles and bodies so cosmetic
// re-publication does not change matching keys or content hashes.
package textnorm

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// Normalize returns s NFKC-folded, with HTML tags stripped, entities
// decoded, lowercased and whitespace collapsed. The steps repeat until the
// text stops changing, so Normalize(Normalize(s)) == Normalize(s) for markup
// escaped any number of times.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// Each decoding round shortens s; the bound only guards odd case folds.
	limit := len(s) + 1
	for i := 0; i < limit; i++ {
		next := round(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func round(s string) string {
	s = norm.NFKC.String(s)
	s = html.UnescapeString(policy.Sanitize(s))
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Prefix returns the first n runes of an already normalized string.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
