// Package transform maps raw sheet headers onto canonical budget fields and
// turns raw rows into validated budget records.
package transform

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeHeader lower-cases h, folds punctuation to spaces and collapses
// runs of whitespace, so "Budget_Amount ($)" and "budget amount" compare equal.
func NormalizeHeader(h string) string {
	var b strings.Builder
	b.Grow(len(h))
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// labeler title-cases category and department labels. A labeler must not
// be shared between goroutines.
type labeler struct {
	caser cases.Caser
}

func newLabeler() *labeler {
	return &labeler{caser: cases.Title(language.Und)}
}

// label trims, collapses internal whitespace and title-cases s.
func (l *labeler) label(s string) string {
	s = collapseSpaces(s)
	if s == "" {
		return ""
	}
	return l.caser.String(s)
}
