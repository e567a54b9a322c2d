package pipeline

import (
	"context"
	"fmt"
	"strings"

	"budget-etl/internal/domain"
	"budget-etl/internal/service/aggregate"
)

func (s *Service) baseReport(rc *runContext) *domain.ValidationReport {
	r := &domain.ValidationReport{
		Status:          domain.ReportStatusSuccess,
		StartedAt:       rc.startedAt,
		ChecksPerformed: []string{},
		IssuesFound:     []string{},
		RecordsLoaded:   rc.written,
		SheetsSkipped:   rc.skipped(),
	}
	if rc.loaded {
		r.SheetsLoaded = len(rc.survivors())
	}
	for _, st := range rc.sheets {
		if st.outcome == nil {
			continue
		}
		r.RowsRejected += len(st.outcome.Rejections)
		if st.alive() {
			r.ZeroAmountRows += st.outcome.ZeroAmount
			r.EmptyCategoryRow += st.outcome.EmptyCategory
		}
	}
	return r
}

// reconcile reads back what the run committed and compares it with what the
// run produced. A mismatch fails the run with ReconciliationMismatch;
// data-quality findings only downgrade the report to WARNING.
func (s *Service) reconcile(ctx context.Context, rc *runContext) (*domain.ValidationReport, error) {
	report := s.baseReport(rc)
	batches := rc.batches()

	var records []domain.BudgetRecord
	for _, b := range batches {
		records = append(records, b.Records...)
	}
	want := aggregate.Totals(records)

	report.ChecksPerformed = append(report.ChecksPerformed, fmt.Sprintf("Processed %d records", want.Count))
	if want.Count == 0 {
		report.IssuesFound = append(report.IssuesFound, "No records were processed")
		report.Status = domain.ReportStatusWarning
	}

	var mismatches []string

	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].RecordID
	}
	stored, err := s.budget.GetRecordsByID(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("read back committed records: %w", err)
	}
	got := aggregate.Totals(stored)
	report.ChecksPerformed = append(report.ChecksPerformed, "Stored record count matches processed records")
	if got.Count != want.Count {
		mismatches = append(mismatches, fmt.Sprintf("stored %d of %d records", got.Count, want.Count))
	}
	report.ChecksPerformed = append(report.ChecksPerformed, "Stored amount total matches processed total")
	if !got.Sum.Equal(want.Sum) {
		mismatches = append(mismatches, fmt.Sprintf("stored amount total %s, processed %s", got.Sum, want.Sum))
	}

	report.ChecksPerformed = append(report.ChecksPerformed, "Stored record fields match processed records")
	mismatches = append(mismatches, diffRecords(records, stored)...)

	summaries, err := s.budget.ListSummariesByRun(ctx, rc.run.ID)
	if err != nil {
		return report, fmt.Errorf("read back summaries: %w", err)
	}
	report.ChecksPerformed = append(report.ChecksPerformed, "Summary totals match record totals")
	mismatches = append(mismatches, diffSummaries(batches, summaries)...)

	if report.SheetsSkipped > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("%d of %d sheets skipped", report.SheetsSkipped, len(rc.sheets)))
	}
	if report.RowsRejected > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("%d rows rejected", report.RowsRejected))
	}
	if report.ZeroAmountRows > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("%d records with zero amount", report.ZeroAmountRows))
	}
	if report.EmptyCategoryRow > 0 {
		report.IssuesFound = append(report.IssuesFound, fmt.Sprintf("%d records with empty category", report.EmptyCategoryRow))
	}
	if len(report.IssuesFound) > 0 {
		report.Status = domain.ReportStatusWarning
	}

	if len(mismatches) > 0 {
		report.Status = domain.ReportStatusError
		report.IssuesFound = append(report.IssuesFound, mismatches...)
		return report, domain.NewPipelineError(domain.KindReconciliationMismatch, "%s", strings.Join(mismatches, "; "))
	}
	return report, nil
}

// maxFieldMismatches bounds how many differing records are reported.
const maxFieldMismatches = 5

func diffRecords(want, got []domain.BudgetRecord) []string {
	byID := make(map[string]*domain.BudgetRecord, len(got))
	for i := range got {
		byID[got[i].RecordID] = &got[i]
	}

	var out []string
	for i := range want {
		w := &want[i]
		g, ok := byID[w.RecordID]
		if !ok {
			continue // counted by the record count check
		}
		if g.SheetSource != w.SheetSource || g.FiscalYear != w.FiscalYear ||
			g.BudgetItem != w.BudgetItem || g.BudgetCategory != w.BudgetCategory ||
			!g.BudgetAmount.Equal(w.BudgetAmount) {
			out = append(out, fmt.Sprintf("record %s (sheet %q row %d) differs from stored row", w.RecordID, w.SheetSource, w.RowNumber))
			if len(out) == maxFieldMismatches {
				break
			}
		}
	}
	return out
}

func diffSummaries(batches []domain.SheetBatch, stored []domain.BudgetSummary) []string {
	type key struct {
		sheet string
		year  int
	}
	want := make(map[key]domain.RecordTotals)
	for _, b := range batches {
		for _, r := range b.Records {
			k := key{b.SheetName, r.FiscalYear}
			t := want[k]
			t.Count++
			t.Sum = t.Sum.Add(r.BudgetAmount)
			want[k] = t
		}
	}

	var out []string
	seen := make(map[key]bool, len(stored))
	for _, s := range stored {
		k := key{s.SheetName, s.FiscalYear}
		seen[k] = true
		w, ok := want[k]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("unexpected summary for sheet %q fiscal year %d", s.SheetName, s.FiscalYear))
		case w.Count != s.TotalRecords || !w.Sum.Equal(s.TotalBudgetAmount):
			out = append(out, fmt.Sprintf("summary for sheet %q fiscal year %d has %d records totalling %s, records have %d totalling %s",
				s.SheetName, s.FiscalYear, s.TotalRecords, s.TotalBudgetAmount, w.Count, w.Sum))
		}
	}
	for k := range want {
		if !seen[k] {
			out = append(out, fmt.Sprintf("missing summary for sheet %q fiscal year %d", k.sheet, k.year))
		}
	}
	return out
}
