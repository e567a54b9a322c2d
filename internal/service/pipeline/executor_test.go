package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
	"budget-etl/internal/testutil"
)

func TestExecuteRun_PartialWhenSheetMissesRequiredColumn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet(), fireSheetWithoutAmount())

	view, err := env.svc.Run(ctx, trigger(path, "scenario-a"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusPartial, view.Run.Status)
	require.NotNil(t, view.Run.StartedAt)
	require.NotNil(t, view.Run.EndedAt)
	require.NotNil(t, view.Run.FileDigest)
	require.Len(t, view.Sheets, 2)

	sheets := map[string]domain.SheetResult{}
	for _, s := range view.Sheets {
		sheets[s.SheetName] = s
	}
	assert.Equal(t, domain.SheetStatusLoaded, sheets["Police"].Status)
	assert.Equal(t, 10, sheets["Police"].RecordsProcessed)
	assert.Equal(t, domain.SheetStatusSkipped, sheets["Fire"].Status)
	require.NotNil(t, sheets["Fire"].ErrorKind)
	assert.Equal(t, string(domain.KindRequiredColumnMissing), *sheets["Fire"].ErrorKind)

	summaries, err := env.budget.ListSummariesByRun(ctx, "scenario-a")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Police", summaries[0].SheetName)
	assert.Equal(t, 2025, summaries[0].FiscalYear)
	assert.Equal(t, 10, summaries[0].TotalRecords)
	assert.True(t, summaries[0].TotalBudgetAmount.Equal(decimal.NewFromInt(5500)))

	entries, err := env.audits.ListByRun(ctx, "scenario-a")
	require.NoError(t, err)
	fire := auditFor(entries, domain.TaskTransform, "Fire", domain.AuditStatusFailed)
	require.Len(t, fire, 1)
	require.NotNil(t, fire[0].ErrorKind)
	assert.Equal(t, string(domain.KindRequiredColumnMissing), *fire[0].ErrorKind)

	police := auditFor(entries, domain.TaskTransform, "Police", domain.AuditStatusSuccess)
	require.Len(t, police, 1)
	assert.Equal(t, 10, police[0].RecordsProcessed)
	for _, task := range []string{domain.TaskExtract, domain.TaskLoad, domain.TaskValidate} {
		assert.Len(t, auditFor(entries, task, "", domain.AuditStatusSuccess), 1, task)
	}

	require.NotNil(t, view.Run.Report)
	assert.Equal(t, domain.ReportStatusWarning, view.Run.Report.Status)
	assert.Equal(t, 10, view.Run.Report.RecordsLoaded)
	assert.Equal(t, 1, view.Run.Report.SheetsSkipped)
}

func TestExecuteRun_SucceedsWhenEverySheetLoads(t *testing.T) {
	env := newTestEnv(t)
	path := writeWorkbook(t, t.TempDir(), policeSheet(), sheet{name: "Parks FY2026", rows: [][]any{
		{"Line Item", "Cost", "Type"},
		{"Mowers", "$(1,200.50)", "equipment"},
		{"Benches", "300", "equipment"},
	}})

	view, err := env.svc.Run(context.Background(), trigger(path, "all-good"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	assert.Nil(t, view.Run.ErrorMessage)
	assert.Equal(t, domain.ReportStatusSuccess, view.Run.Report.Status)
	assert.Equal(t, 12, view.Run.Report.RecordsLoaded)

	summaries, err := env.budget.ListSummariesByRun(context.Background(), "all-good")
	require.NoError(t, err)
	var parks *domain.BudgetSummary
	for i := range summaries {
		if summaries[i].SheetName == "Parks FY2026" {
			parks = &summaries[i]
		}
	}
	require.NotNil(t, parks)
	assert.Equal(t, 2026, parks.FiscalYear, "fiscal year taken from the sheet name")
	assert.True(t, parks.TotalBudgetAmount.Equal(decimal.RequireFromString("-900.50")))
	assert.True(t, parks.MinBudgetItem.Equal(decimal.RequireFromString("-1200.50")))
}

func TestExecuteRun_FailsWhenSinkStaysUnavailable(t *testing.T) {
	calls := 0
	budget := &testutil.MockBudgetRepo{
		CommitBatchesFn: func(context.Context, string, []domain.SheetBatch) (int, error) {
			calls++
			return 0, domain.WrapPipelineError(domain.KindSinkUnavailable, true, errors.New("database is locked"), "commit")
		},
	}
	env := newTestEnv(t, withBudget(budget))
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	view, err := env.svc.Run(ctx, trigger(path, "scenario-d"))
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	require.NotNil(t, view.Run.ErrorMessage)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindSinkUnavailable))
	assert.Equal(t, 4, calls, "first attempt plus three retries")
	assert.Zero(t, budget.CommitCount())

	entries, err := env.audits.ListByRun(ctx, "scenario-d")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskLoad, "", domain.AuditStatusStarted), 4)
	failed := auditFor(entries, domain.TaskLoad, "", domain.AuditStatusFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].ErrorKind)
	assert.Equal(t, string(domain.KindSinkUnavailable), *failed[0].ErrorKind)
	assert.Equal(t, 4, failed[0].Attempt)
	assert.Len(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusSkipped), 1)

	require.Len(t, view.Sheets, 1)
	assert.Equal(t, domain.SheetStatusFailed, view.Sheets[0].Status)
}

func TestExecuteRun_ConstraintViolationIsNotRetried(t *testing.T) {
	calls := 0
	budget := &testutil.MockBudgetRepo{
		CommitBatchesFn: func(context.Context, string, []domain.SheetBatch) (int, error) {
			calls++
			return 0, &domain.PipelineError{Kind: domain.KindConstraintViolation, Sheet: "Police", Message: "CHECK constraint failed"}
		},
	}
	env := newTestEnv(t, withBudget(budget))
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	view, err := env.svc.Run(context.Background(), trigger(path, "constraint"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Equal(t, 1, calls)
}

func TestExecuteRun_IdempotentAcrossRunIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet(), fireSheetWithoutAmount())

	first, err := env.svc.Run(ctx, trigger(path, "first"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPartial, first.Run.Status)
	before := dumpBudgetData(t, env)

	second, err := env.svc.Run(ctx, trigger(path, "second"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPartial, second.Run.Status)
	after := dumpBudgetData(t, env)

	assert.Len(t, before, 10)
	assert.Equal(t, before, after)

	s1, err := env.budget.ListSummariesByRun(ctx, "first")
	require.NoError(t, err)
	s2, err := env.budget.ListSummariesByRun(ctx, "second")
	require.NoError(t, err)
	require.Len(t, s1, 1)
	require.Len(t, s2, 1)
	assert.True(t, s1[0].TotalBudgetAmount.Equal(s2[0].TotalBudgetAmount))
}

// dumpBudgetData returns every budget_data row without the run-scoped columns.
func dumpBudgetData(t *testing.T, env *testEnv) []string {
	t.Helper()
	rows, err := env.pools.Read.Query(`
		SELECT record_id || '|' || sheet_source || '|' || fiscal_year || '|' || budget_category || '|' ||
		       COALESCE(department, '<null>') || '|' || budget_item || '|' || budget_amount || '|' ||
		       processed_date || '|' || source_file || '|' || source_row
		FROM budget_data ORDER BY record_id`)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var line string
		require.NoError(t, rows.Scan(&line))
		out = append(out, line)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestExecuteRun_FailsWhenNoSheetSurvives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), fireSheetWithoutAmount())

	view, err := env.svc.Run(ctx, trigger(path, "nothing"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	require.NotNil(t, view.Run.ErrorMessage)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindNoSheetsSurvived))

	entries, err := env.audits.ListByRun(ctx, "nothing")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskLoad, "", domain.AuditStatusSkipped), 1)
	assert.Len(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusSkipped), 1)
}

func TestExecuteRun_ExcessiveRejectionRateSkipsSheet(t *testing.T) {
	env := newTestEnv(t)
	path := writeWorkbook(t, t.TempDir(), policeSheet(), sheet{name: "Garbage", rows: [][]any{
		{"Item", "Amount"},
		{"A", "n/a"},
		{"B", "tbd"},
		{"C", "5"},
	}})

	view, err := env.svc.Run(context.Background(), trigger(path, "garbage"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartial, view.Run.Status)

	for _, s := range view.Sheets {
		if s.SheetName == "Garbage" {
			assert.Equal(t, domain.SheetStatusSkipped, s.Status)
			assert.Equal(t, 2, s.RejectedCount)
			require.NotNil(t, s.ErrorKind)
			assert.Equal(t, string(domain.KindExcessiveRejectionRate), *s.ErrorKind)
			assert.NotEmpty(t, s.Warnings)
		}
	}
}

func TestExecuteRun_SheetWithinThresholdNeverFailsRun(t *testing.T) {
	env := newTestEnv(t)
	path := writeWorkbook(t, t.TempDir(), sheet{name: "Sparse", rows: [][]any{
		{"Item", "Amount", "FY"},
		{"A", "10", "FY2025"},
		{"B", "oops", "FY2025"},
		{"C", "0", "FY2025"},
		{"D", "5", "FY2999"},
	}})

	view, err := env.svc.Run(context.Background(), trigger(path, "sparse"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	require.Len(t, view.Sheets, 1)
	assert.Equal(t, 2, view.Sheets[0].RecordsProcessed)
	assert.Equal(t, 2, view.Sheets[0].RejectedCount)
	assert.Equal(t, 1, view.Sheets[0].ZeroAmountCount)
	assert.Equal(t, domain.ReportStatusWarning, view.Run.Report.Status)
}

func TestExecuteRun_NegativeAmountsPerSheetRule(t *testing.T) {
	no := false
	env := newTestEnv(t, withConfig(func(c *config.PipelineConfig) {
		c.SheetRules = map[string]config.SheetRule{"revenue": {AllowNegative: &no}}
		c.RejectionThreshold = 1
	}))
	path := writeWorkbook(t, t.TempDir(), sheet{name: "Revenue", rows: [][]any{
		{"Item", "Amount"},
		{"Grant", "100"},
		{"Refund", "(20)"},
	}})

	view, err := env.svc.Run(context.Background(), trigger(path, "negatives"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	assert.Equal(t, 1, view.Sheets[0].RecordsProcessed)
	assert.Equal(t, 1, view.Sheets[0].RejectedCount)
}

func TestExecuteRun_MissingFileFailsExtract(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "nope.xlsx")

	view, err := env.svc.Run(ctx, trigger(missing, "missing"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindSourceUnreadable))
	assert.Equal(t, domain.ReportStatusError, view.Run.Report.Status)

	entries, err := env.audits.ListByRun(ctx, "missing")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskExtract, "", domain.AuditStatusStarted), 1, "permanent errors are not retried")
	assert.Len(t, auditFor(entries, domain.TaskExtract, "", domain.AuditStatusFailed), 1)
	assert.Len(t, auditFor(entries, domain.TaskLoad, "", domain.AuditStatusSkipped), 1)
}

func TestExecuteRun_UnrecognizedFormat(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "budget.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	view, err := env.svc.Run(context.Background(), trigger(path, "pdf"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindSourceUnreadable))
}

func TestExecuteRun_CSVInput(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "roads.csv")
	require.NoError(t, os.WriteFile(path, []byte("Item,Amount,Fiscal Year\nAsphalt,\"1,000\",2025-26\nSigns,250,2025\n"), 0o600))

	view, err := env.svc.Run(context.Background(), trigger(path, "csv"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	require.Len(t, view.Sheets, 1)
	assert.Equal(t, "roads", view.Sheets[0].SheetName)
	assert.Equal(t, 2, view.Sheets[0].RecordsProcessed)
}
