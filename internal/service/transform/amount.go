package transform

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	currencyCode  = regexp.MustCompile(`^[A-Za-z]{3}\s+|\s+[A-Za-z]{3}$|^[A-Z]{3}|[A-Z]{3}$`)
	numericAmount = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ParseAmount parses a budget amount as it appears in a sheet. Currency
// symbols and codes, thousands separators and whitespace are stripped.
// Parenthesized values and a leading minus are negative, so "$(1,200.50)"
// parses to -1200.50.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	s = currencyCode.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Sc, r), unicode.IsSpace(r), r == ',', r == '\'', r == '_':
			return -1
		case r == '\u2212': // minus sign
			return '-'
		}
		return r
	}, s)

	negative := false
	if strings.HasPrefix(s, "-(") && strings.HasSuffix(s, ")") {
		return decimal.Zero, fmt.Errorf("amount %q has both sign and parentheses", raw)
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			return decimal.Zero, fmt.Errorf("amount %q has both sign and parentheses", raw)
		}
		negative = true
	}

	if !numericAmount.MatchString(s) {
		return decimal.Zero, fmt.Errorf("amount %q is not numeric", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
