// Package aggregate computes per-fiscal-year summaries of a sheet's records.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"budget-etl/internal/domain"
)

// AverageScale is the number of decimal places kept in averages.
const AverageScale = 2

// Summarize groups records by fiscal year and returns one summary per year,
// ordered by fiscal year. Records are expected to belong to one sheet and
// one run.
func Summarize(sheet, runID string, records []domain.BudgetRecord, processingDate time.Time) []domain.BudgetSummary {
	byYear := make(map[int]*domain.BudgetSummary)
	for _, r := range records {
		s, ok := byYear[r.FiscalYear]
		if !ok {
			s = &domain.BudgetSummary{
				SheetName:      sheet,
				FiscalYear:     r.FiscalYear,
				RunID:          runID,
				MaxBudgetItem:  r.BudgetAmount,
				MinBudgetItem:  r.BudgetAmount,
				ProcessingDate: processingDate,
			}
			byYear[r.FiscalYear] = s
		}
		s.TotalRecords++
		s.TotalBudgetAmount = s.TotalBudgetAmount.Add(r.BudgetAmount)
		if r.BudgetAmount.GreaterThan(s.MaxBudgetItem) {
			s.MaxBudgetItem = r.BudgetAmount
		}
		if r.BudgetAmount.LessThan(s.MinBudgetItem) {
			s.MinBudgetItem = r.BudgetAmount
		}
	}

	out := make([]domain.BudgetSummary, 0, len(byYear))
	for _, s := range byYear {
		s.AverageBudgetItem = s.TotalBudgetAmount.DivRound(decimal.NewFromInt(int64(s.TotalRecords)), AverageScale)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalYear < out[j].FiscalYear })
	return out
}

// Totals sums the count and amount over records.
func Totals(records []domain.BudgetRecord) domain.RecordTotals {
	t := domain.RecordTotals{Sum: decimal.Zero}
	for _, r := range records {
		t.Count++
		t.Sum = t.Sum.Add(r.BudgetAmount)
	}
	return t
}

// SummaryTotals sums the count and amount over summaries.
func SummaryTotals(summaries []domain.BudgetSummary) domain.RecordTotals {
	t := domain.RecordTotals{Sum: decimal.Zero}
	for _, s := range summaries {
		t.Count += s.TotalRecords
		t.Sum = t.Sum.Add(s.TotalBudgetAmount)
	}
	return t
}
