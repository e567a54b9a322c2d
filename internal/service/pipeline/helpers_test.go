package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"budget-etl/internal/config"
	internaldb "budget-etl/internal/db"
	"budget-etl/internal/db/repository"
	"budget-etl/internal/domain"
	"budget-etl/internal/service/audit"
	"budget-etl/internal/service/extract"
)

// testEnv is a Service over a real migrated sink.
type testEnv struct {
	svc    *Service
	pools  *internaldb.Pools
	runs   *repository.RunRepo
	audits *repository.AuditRepo
	budget *repository.BudgetRepo
}

type envOption func(*envConfig)

type envConfig struct {
	cfg        *config.PipelineConfig
	budget     domain.BudgetRepository
	wrapBudget func(domain.BudgetRepository) domain.BudgetRepository
	fetcher    InputFetcher
}

func withBudget(b domain.BudgetRepository) envOption {
	return func(c *envConfig) { c.budget = b }
}

// wrapBudget decorates the real budget repository of the env.
func wrapBudget(fn func(domain.BudgetRepository) domain.BudgetRepository) envOption {
	return func(c *envConfig) { c.wrapBudget = fn }
}

func withFetcher(f InputFetcher) envOption {
	return func(c *envConfig) { c.fetcher = f }
}

func withConfig(fn func(*config.PipelineConfig)) envOption {
	return func(c *envConfig) { fn(c.cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	pools := internaldb.OpenTestSink(t)
	logger := slog.New(slog.DiscardHandler)

	env := &testEnv{
		pools:  pools,
		runs:   repository.NewRunRepo(pools.Write, pools.Read),
		audits: repository.NewAuditRepo(pools.Write, pools.Read),
		budget: repository.NewBudgetRepo(pools.Write, pools.Read),
	}

	ec := &envConfig{cfg: config.DefaultPipelineConfig(), budget: env.budget}
	ec.cfg.RetryBackoffBase = time.Millisecond
	ec.fetcher = extract.NewFetcher(config.StorageConfig{}, logger)
	for _, opt := range opts {
		opt(ec)
	}
	if ec.wrapBudget != nil {
		ec.budget = ec.wrapBudget(ec.budget)
	}

	recorder := audit.NewRecorder(env.audits, filepath.Join(t.TempDir(), "audit-fallback.jsonl"), logger)
	svc, err := NewService(env.runs, env.audits, ec.budget, recorder, ec.fetcher, ec.cfg, logger)
	require.NoError(t, err)
	env.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return env
}

// sheet is one worksheet of a generated workbook.
type sheet struct {
	name string
	rows [][]any // first row is the header
}

func writeWorkbook(t *testing.T, dir string, sheets ...sheet) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.name))
		} else {
			_, err := f.NewSheet(s.name)
			require.NoError(t, err)
		}
		for r, cells := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			row := cells
			require.NoError(t, f.SetSheetRow(s.name, cell, &row))
		}
	}

	path := filepath.Join(dir, "budget.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

// policeSheet has ten valid rows whose amounts total 5500.
func policeSheet() sheet {
	rows := [][]any{{"Budget Item", "Budget Amount", "Category", "Department", "Fiscal Year"}}
	for i := 1; i <= 10; i++ {
		rows = append(rows, []any{"Item " + string(rune('A'+i-1)), i * 100, "public safety", "police", "FY2025"})
	}
	return sheet{name: "Police", rows: rows}
}

// fireSheetWithoutAmount has no column matching budget_amount.
func fireSheetWithoutAmount() sheet {
	return sheet{name: "Fire", rows: [][]any{
		{"Item", "Notes"},
		{"Hoses", "replace"},
	}}
}

func trigger(input, runID string) domain.TriggerRequest {
	return domain.TriggerRequest{
		InputFileReference: input,
		RunID:              runID,
		RequestedBy:        "tester",
		Timestamp:          time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
	}
}

func auditFor(entries []domain.AuditEntry, taskID, sheet, status string) []domain.AuditEntry {
	var out []domain.AuditEntry
	for _, e := range entries {
		if e.TaskID == taskID && e.SheetName == sheet && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// blockingFetcher blocks Fetch until the context ends.
type blockingFetcher struct {
	started chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}, 8)}
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ string) (*extract.Input, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}
