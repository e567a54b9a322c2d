package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
	"budget-etl/internal/service/audit"
	"budget-etl/internal/service/extract"
	"budget-etl/internal/testutil"
)

func newMockService(t *testing.T, runs *testutil.MockRunRepo, audits *testutil.MockAuditRepo) *Service {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	recorder := audit.NewRecorder(audits, filepath.Join(t.TempDir(), "audit-fallback.jsonl"), logger)
	svc, err := NewService(runs, audits, &testutil.MockBudgetRepo{}, recorder,
		extract.NewFetcher(config.StorageConfig{}, logger), config.DefaultPipelineConfig(), logger)
	require.NoError(t, err)
	return svc
}

func TestService_TriggerSinkUnavailable(t *testing.T) {
	sinkDown := domain.WrapPipelineError(domain.KindSinkUnavailable, true, errors.New("database is locked"), "get run")
	runs := &testutil.MockRunRepo{
		GetRunFn: func(_ context.Context, _ string) (*domain.Run, error) {
			return nil, sinkDown
		},
	}
	svc := newMockService(t, runs, &testutil.MockAuditRepo{})

	req := domain.TriggerRequest{InputFileReference: "budget.xlsx", RequestedBy: "alice", RunID: "r1"}
	_, err := svc.Trigger(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.KindSinkUnavailable, domain.KindOf(err))

	// The failed claim must release the id so the trigger can be retried.
	assert.False(t, svc.registry.inFlight("r1"))
	_, err = svc.Trigger(context.Background(), req)
	assert.Equal(t, domain.KindSinkUnavailable, domain.KindOf(err))
}

func TestService_RecoverInterruptedClosesOpenEntries(t *testing.T) {
	started := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	var finished []string
	runs := &testutil.MockRunRepo{
		ListUnfinishedRunsFn: func(_ context.Context) ([]domain.Run, error) {
			return []domain.Run{{ID: "stale", Status: domain.RunStatusLoading, Attempt: 2}}, nil
		},
		FinishRunFn: func(_ context.Context, id, status string, errorMsg *string, _ *domain.ValidationReport) error {
			finished = append(finished, id+":"+status)
			require.NotNil(t, errorMsg)
			assert.Contains(t, *errorMsg, string(domain.KindInterrupted))
			return nil
		},
	}
	audits := &testutil.MockAuditRepo{
		ListOpenFn: func(_ context.Context, runID string) ([]domain.AuditEntry, error) {
			return []domain.AuditEntry{{
				RunID: runID, RunAttempt: 2, TaskID: domain.TaskLoad, Attempt: 1,
				ExecutionDate: started, Status: domain.AuditStatusStarted,
			}}, nil
		},
	}
	svc := newMockService(t, runs, audits)

	n, err := svc.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stale:" + domain.RunStatusFailed}, finished)

	closed := audits.Find(domain.TaskLoad, "", domain.AuditStatusFailed)
	require.Len(t, closed, 1)
	assert.Equal(t, 2, closed[0].RunAttempt)
	require.NotNil(t, closed[0].ErrorKind)
	assert.Equal(t, string(domain.KindInterrupted), *closed[0].ErrorKind)
}

func TestService_RecoverInterruptedListFails(t *testing.T) {
	runs := &testutil.MockRunRepo{
		ListUnfinishedRunsFn: func(_ context.Context) ([]domain.Run, error) {
			return nil, errors.New("boom")
		},
	}
	svc := newMockService(t, runs, &testutil.MockAuditRepo{})

	_, err := svc.RecoverInterrupted(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list unfinished runs")
}
