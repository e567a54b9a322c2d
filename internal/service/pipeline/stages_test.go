package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
	"budget-etl/internal/service/extract"
)

// flakyReadBudget fails the first n record read-backs with a retryable
// sink error and delegates everything else.
type flakyReadBudget struct {
	domain.BudgetRepository

	mu       sync.Mutex
	failures int
	reads    int
}

func (f *flakyReadBudget) GetRecordsByID(ctx context.Context, ids []string) ([]domain.BudgetRecord, error) {
	f.mu.Lock()
	f.reads++
	fail := f.reads <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, domain.WrapPipelineError(domain.KindSinkUnavailable, true, errors.New("database is locked"), "read records")
	}
	return f.BudgetRepository.GetRecordsByID(ctx, ids)
}

func TestExecuteRun_ValidateRetriesTransientSinkErrors(t *testing.T) {
	budget := &flakyReadBudget{failures: 1}
	env := newTestEnv(t, wrapBudget(func(repo domain.BudgetRepository) domain.BudgetRepository {
		budget.BudgetRepository = repo
		return budget
	}))
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	view, err := env.svc.Run(ctx, trigger(path, "validate-retry"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	assert.Equal(t, 2, budget.reads)

	entries, err := env.audits.ListByRun(ctx, "validate-retry")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusStarted), 2)
	ok := auditFor(entries, domain.TaskValidate, "", domain.AuditStatusSuccess)
	require.Len(t, ok, 1)
	assert.Equal(t, 2, ok[0].Attempt)
	assert.Empty(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusFailed))
}

func TestExecuteRun_ValidateGivesUpAfterRetries(t *testing.T) {
	budget := &flakyReadBudget{failures: 100}
	env := newTestEnv(t, wrapBudget(func(repo domain.BudgetRepository) domain.BudgetRepository {
		budget.BudgetRepository = repo
		return budget
	}))
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	view, err := env.svc.Run(ctx, trigger(path, "validate-down"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Equal(t, 4, budget.reads, "first attempt plus three retries")

	entries, err := env.audits.ListByRun(ctx, "validate-down")
	require.NoError(t, err)
	failed := auditFor(entries, domain.TaskValidate, "", domain.AuditStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 4, failed[0].Attempt)
}

func TestExecuteRun_RestartReplacesSummariesOfSkippedSheets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	parks := sheet{name: "Parks", rows: [][]any{
		{"Budget Item", "Budget Amount", "Fiscal Year"},
		{"Mowers", 900, 2025},
	}}
	path := writeWorkbook(t, dir, policeSheet(), parks)

	view, err := env.svc.Run(ctx, trigger(path, "restart-summaries"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSucceeded, view.Run.Status)

	// The run is marked failed after its data was loaded, then retried
	// against a file where Parks lost its amount column.
	msg := "marked failed by operator"
	require.NoError(t, env.runs.FinishRun(ctx, "restart-summaries", domain.RunStatusFailed, &msg, nil))
	writeWorkbook(t, dir, policeSheet(), sheet{name: "Parks", rows: [][]any{
		{"Budget Item", "Notes"},
		{"Mowers", "no amount"},
	}})

	view, err = env.svc.Run(ctx, trigger(path, "restart-summaries"))
	require.NoError(t, err)
	assert.Equal(t, 2, view.Run.Attempt)
	assert.Equal(t, domain.RunStatusPartial, view.Run.Status)

	summaries, err := env.budget.ListSummariesByRun(ctx, "restart-summaries")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Police", summaries[0].SheetName)
}

func TestExecuteRun_RemoteCSVIsIdempotent(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	fetcher := extract.NewFetcher(config.StorageConfig{}, logger,
		extract.WithTempDir(t.TempDir()),
		extract.WithOpener("s3", func(_ context.Context, _ string) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("Item,Amount,Fiscal Year\nAsphalt,1000,2025\nSigns,250,2025\n")), nil
		}),
	)
	env := newTestEnv(t, withFetcher(fetcher))
	ctx := context.Background()

	for _, id := range []string{"remote-1", "remote-2"} {
		view, err := env.svc.Run(ctx, trigger("s3://budgets/roads.csv", id))
		require.NoError(t, err)
		require.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
		require.Len(t, view.Sheets, 1)
		assert.Equal(t, "roads", view.Sheets[0].SheetName)
	}

	rows := dumpBudgetData(t, env)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Contains(t, r, "|roads|")
		assert.Contains(t, r, "|roads.csv|")
	}
}

func TestExecuteRun_ConcurrentRunsOverSameFileConverge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet(), fireSheetWithoutAmount())

	var wg sync.WaitGroup
	results := make([]*domain.RunStatusView, 2)
	errs := make([]error, 2)
	for i, id := range []string{"parallel-a", "parallel-b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.svc.Run(ctx, trigger(path, id))
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.RunStatusPartial, results[i].Run.Status)
	}
	concurrent := dumpBudgetData(t, env)
	require.Len(t, concurrent, 10)

	view, err := env.svc.Run(ctx, trigger(path, "sequential"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPartial, view.Run.Status)
	assert.Equal(t, concurrent, dumpBudgetData(t, env))
}

func TestExecuteRun_StageTimeoutFailsRun(t *testing.T) {
	fetcher := newBlockingFetcher()
	env := newTestEnv(t, withFetcher(fetcher), withConfig(func(c *config.PipelineConfig) {
		c.StageTimeout = 50 * time.Millisecond
	}))
	ctx := context.Background()

	view, err := env.svc.Run(ctx, trigger("budget.xlsx", "too-slow"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	require.NotNil(t, view.Run.ErrorMessage)
	assert.Contains(t, *view.Run.ErrorMessage, "exceeded timeout")

	entries, err := env.audits.ListByRun(ctx, "too-slow")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskExtract, "", domain.AuditStatusFailed), 1)
	assert.Len(t, auditFor(entries, domain.TaskLoad, "", domain.AuditStatusSkipped), 1)
	assert.Len(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusSkipped), 1)

	open, err := env.audits.ListOpen(ctx, "too-slow")
	require.NoError(t, err)
	assert.Empty(t, open)
}
