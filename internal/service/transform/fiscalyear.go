package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinFiscalYear is the earliest accepted fiscal year.
const MinFiscalYear = 1900

var (
	// FY2025, FY 2025, 2025, 2025-26, 2025/2026, FY2025-26.
	fiscalYearText = regexp.MustCompile(`^(?:FY\s*)?(\d{4})(?:\s*[-/]\s*(?:\d{2}|\d{4}))?$`)
	// Excel stores a typed year as a number, which may come back as 2025.0.
	fiscalYearNumber = regexp.MustCompile(`^(\d{4})\.0+$`)
	yearInName       = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)
)

// ParseFiscalYear extracts the fiscal year from a cell. Ranges take the
// first year.
func ParseFiscalYear(raw string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if m := fiscalYearNumber.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	m := fiscalYearText.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("fiscal year %q is not recognized", raw)
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("fiscal year %q: %w", raw, err)
	}
	return year, nil
}

// MaxFiscalYear is the latest fiscal year accepted when processing at
// processedAt. A fiscal year is labelled by the calendar year it ends in,
// so one that starts tolerance years ahead carries label year+tolerance+1.
func MaxFiscalYear(processedAt time.Time, tolerance int) int {
	return processedAt.Year() + tolerance + 1
}

// CheckFiscalYear reports whether year is within the accepted range.
func CheckFiscalYear(year int, processedAt time.Time, tolerance int) error {
	if year < MinFiscalYear {
		return fmt.Errorf("fiscal year %d is before %d", year, MinFiscalYear)
	}
	if limit := MaxFiscalYear(processedAt, tolerance); year > limit {
		return fmt.Errorf("fiscal year %d is after %d", year, limit)
	}
	return nil
}

// YearFromSheetName returns the first plausible year embedded in a sheet
// name such as "FY2025 Operating" or "Budget_2024".
func YearFromSheetName(name string) (int, bool) {
	m := yearInName.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}
