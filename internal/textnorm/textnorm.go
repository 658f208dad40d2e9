// Package textnorm приводит заголовки и справочные значения к ASCII-виду
// для сопоставления по алиасам.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// đ/Đ не раскладываются через NFD, поэтому заменяются явно.
var dStroke = runes.Map(func(r rune) rune {
	switch r {
	case 'đ', 'Đ':
		return 'd'
	}
	return r
})

// Fold: trim, lower-case, без диакритики.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), dStroke, norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Slug: Fold + каждая серия не-[a-z0-9] схлопывается в "_", крайние "_" срезаются.
func Slug(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
