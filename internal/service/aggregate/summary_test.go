package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/domain"
)

func rec(year int, amount string) domain.BudgetRecord {
	return domain.BudgetRecord{FiscalYear: year, BudgetAmount: decimal.RequireFromString(amount)}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarize(t *testing.T) {
	day := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	records := []domain.BudgetRecord{
		rec(2026, "100"),
		rec(2025, "10.10"),
		rec(2025, "-1200.50"),
		rec(2026, "200"),
		rec(2025, "0"),
	}

	got := Summarize("Police", "run-1", records, day)
	require.Len(t, got, 2)

	y25 := got[0]
	assert.Equal(t, 2025, y25.FiscalYear)
	assert.Equal(t, "Police", y25.SheetName)
	assert.Equal(t, "run-1", y25.RunID)
	assert.Equal(t, day, y25.ProcessingDate)
	assert.Equal(t, 3, y25.TotalRecords)
	assert.True(t, y25.TotalBudgetAmount.Equal(dec("-1190.40")), y25.TotalBudgetAmount.String())
	assert.True(t, y25.MaxBudgetItem.Equal(dec("10.10")))
	assert.True(t, y25.MinBudgetItem.Equal(dec("-1200.50")))
	assert.True(t, y25.AverageBudgetItem.Equal(dec("-396.80")), y25.AverageBudgetItem.String())

	y26 := got[1]
	assert.Equal(t, 2026, y26.FiscalYear)
	assert.Equal(t, 2, y26.TotalRecords)
	assert.True(t, y26.AverageBudgetItem.Equal(dec("150")))
}

func TestSummarize_AverageRounding(t *testing.T) {
	got := Summarize("Fire", "run-1", []domain.BudgetRecord{rec(2025, "1"), rec(2025, "1"), rec(2025, "0")}, time.Now())
	require.Len(t, got, 1)
	assert.Equal(t, "0.67", got[0].AverageBudgetItem.StringFixed(2))
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize("Empty", "run-1", nil, time.Now()))
}

func TestSummaryTotalsMatchRecordTotals(t *testing.T) {
	records := []domain.BudgetRecord{
		rec(2024, "1.25"), rec(2025, "2.50"), rec(2025, "-0.75"), rec(2030, "1000000.01"),
	}

	want := Totals(records)
	got := SummaryTotals(Summarize("Parks", "run-1", records, time.Now()))

	assert.Equal(t, 4, want.Count)
	assert.Equal(t, want.Count, got.Count)
	assert.True(t, want.Sum.Equal(got.Sum))
	assert.True(t, want.Sum.Equal(dec("1000003.01")))
}
