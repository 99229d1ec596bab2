package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.AmericanEnglish)

// NormalizePlaceName standardizes publisher place names. The publisher
// concatenates multi-word town names when cell whitespace is stripped
// ("EastBridgewater", "FallRiver"); split on interior lower-to-upper
// boundaries and title-case fully-lowercased words.
func NormalizePlaceName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	words := strings.Fields(b.String())
	for i, w := range words {
		if w == strings.ToLower(w) {
			words[i] = titleCaser.String(w)
		}
	}
	return strings.Join(words, " ")
}

// CleanCell trims a raw cell and removes the non-breaking spaces the
// publisher's word-processor documents embed.
func CleanCell(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}
