package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFiscalYear(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"2025", 2025},
		{"FY2025", 2025},
		{"fy 2025", 2025},
		{"2025-26", 2025},
		{"2025/2026", 2025},
		{"FY2025-26", 2025},
		{"2025.0", 2025},
		{" 2024 ", 2024},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseFiscalYear(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseFiscalYear_Errors(t *testing.T) {
	for _, raw := range []string{"", "next year", "25", "20255", "2025.5", "FY"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseFiscalYear(raw)
			assert.Error(t, err)
		})
	}
}

func TestCheckFiscalYear(t *testing.T) {
	processed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		year    int
		wantErr bool
	}{
		{"lower bound", 1900, false},
		{"before lower bound", 1899, true},
		{"current year", 2025, false},
		{"within tolerance", 2031, false},
		{"beyond tolerance", 2032, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckFiscalYear(tc.year, processed, 5)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestYearFromSheetName(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"FY2025 Operating", 2025, true},
		{"Budget_2024", 2024, true},
		{"Capital 1999-2000", 1999, true},
		{"Police", 0, false},
		{"Sheet12345", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := YearFromSheetName(tc.name)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
