package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget-etl/internal/domain"
)

func TestService_TriggerValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  domain.TriggerRequest
	}{
		{name: "missing input", req: domain.TriggerRequest{RequestedBy: "alice"}},
		{name: "blank input", req: domain.TriggerRequest{InputFileReference: "   ", RequestedBy: "alice"}},
		{name: "missing requester", req: domain.TriggerRequest{InputFileReference: "budget.xlsx"}},
		{name: "non-ascii run id", req: domain.TriggerRequest{InputFileReference: "budget.xlsx", RequestedBy: "alice", RunID: "rün"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Trigger(context.Background(), tt.req)
			require.Error(t, err)
			var ve *domain.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestService_TriggerReturnsPendingAndGeneratesRunID(t *testing.T) {
	env := newTestEnv(t)
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	res, err := env.svc.Trigger(context.Background(), domain.TriggerRequest{
		InputFileReference: path,
		RequestedBy:        "alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, domain.RunStatusPending, res.InitialStatus)

	env.svc.Wait()
	view, err := env.svc.GetStatus(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	assert.Equal(t, "alice", view.Run.RequestedBy)
	assert.False(t, view.Run.RequestedAt.IsZero())
}

func TestService_RejectsRunIDInFlight(t *testing.T) {
	fetcher := newBlockingFetcher()
	env := newTestEnv(t, withFetcher(fetcher))
	ctx := context.Background()

	_, err := env.svc.Trigger(ctx, trigger("budget.xlsx", "dup"))
	require.NoError(t, err)
	<-fetcher.started

	_, err = env.svc.Trigger(ctx, trigger("budget.xlsx", "dup"))
	require.Error(t, err)
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)

	require.NoError(t, env.svc.Cancel(ctx, "dup", "tester"))
	env.svc.Wait()
}

func TestService_CancelStopsRun(t *testing.T) {
	fetcher := newBlockingFetcher()
	env := newTestEnv(t, withFetcher(fetcher))
	ctx := context.Background()

	_, err := env.svc.Trigger(ctx, trigger("budget.xlsx", "cancel-me"))
	require.NoError(t, err)
	<-fetcher.started

	require.NoError(t, env.svc.Cancel(ctx, "cancel-me", "tester"))
	env.svc.Wait()

	view, err := env.svc.GetStatus(ctx, "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, view.Run.Status)
	require.NotNil(t, view.Run.ErrorMessage)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindCancelled))
	require.NotNil(t, view.Run.EndedAt)

	entries, err := env.audits.ListByRun(ctx, "cancel-me")
	require.NoError(t, err)
	assert.Len(t, auditFor(entries, domain.TaskExtract, "", domain.AuditStatusFailed), 1)
	assert.Len(t, auditFor(entries, domain.TaskLoad, "", domain.AuditStatusSkipped), 1)
	assert.Len(t, auditFor(entries, domain.TaskValidate, "", domain.AuditStatusSkipped), 1)

	open, err := env.audits.ListOpen(ctx, "cancel-me")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestService_CancelFinishedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	_, err := env.svc.Run(ctx, trigger(path, "done"))
	require.NoError(t, err)

	err = env.svc.Cancel(ctx, "done", "tester")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), domain.RunStatusSucceeded)

	err = env.svc.Cancel(ctx, "unknown", "tester")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_RestartsFailedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.xlsx")

	view, err := env.svc.Run(ctx, trigger(path, "retry-me"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Equal(t, 1, view.Run.Attempt)

	writeWorkbook(t, dir, policeSheet())
	view, err = env.svc.Run(ctx, trigger(path, "retry-me"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, view.Run.Status)
	assert.Equal(t, 2, view.Run.Attempt)
	assert.Nil(t, view.Run.ErrorMessage)

	entries, err := env.svc.ListRunAudit(ctx, "retry-me")
	require.NoError(t, err)
	attempts := map[int]int{}
	for _, e := range entries {
		if e.TaskID == domain.TaskExtract && domain.IsTerminalAuditStatus(e.Status) {
			attempts[e.RunAttempt]++
		}
	}
	assert.Equal(t, map[int]int{1: 1, 2: 1}, attempts)

	_, err = env.svc.Run(ctx, trigger(path, "retry-me"))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce, "a succeeded run cannot be triggered again")
}

func TestService_RestartRejectsDifferentInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.svc.Run(ctx, trigger(filepath.Join(t.TempDir(), "a.xlsx"), "same-id"))
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, view.Run.Status)

	_, err = env.svc.Trigger(ctx, trigger(filepath.Join(t.TempDir(), "b.xlsx"), "same-id"))
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)
}

func TestService_RejectsRunIDWithOpenAuditEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.audits.Insert(ctx, &domain.AuditEntry{
		RunID: "orphan", RunAttempt: 1, TaskID: domain.TaskExtract, Attempt: 1,
		ExecutionDate: time.Now(), Status: domain.AuditStatusStarted,
	}))

	_, err := env.svc.Trigger(ctx, trigger("budget.xlsx", "orphan"))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "unfinished audit entries")
}

func TestService_RecoverInterrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.runs.CreateRun(ctx, &domain.Run{
		ID: "crashed", InputFileReference: "budget.xlsx", RequestedBy: "alice",
		RequestedAt: time.Now(), Status: domain.RunStatusPending, Attempt: 1,
	})
	require.NoError(t, err)
	require.NoError(t, env.runs.UpdateRunStatus(ctx, "crashed", domain.RunStatusLoading))
	require.NoError(t, env.audits.Insert(ctx, &domain.AuditEntry{
		RunID: "crashed", RunAttempt: 1, TaskID: domain.TaskLoad, Attempt: 1,
		ExecutionDate: time.Now(), Status: domain.AuditStatusStarted,
	}))

	n, err := env.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view, err := env.svc.GetStatus(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, view.Run.Status)
	assert.Contains(t, *view.Run.ErrorMessage, string(domain.KindInterrupted))

	open, err := env.audits.ListOpen(ctx, "crashed")
	require.NoError(t, err)
	assert.Empty(t, open)

	n, err = env.svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_GetStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetStatus(context.Background(), "missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_ListRunsAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := writeWorkbook(t, t.TempDir(), policeSheet())

	_, err := env.svc.Run(ctx, trigger(path, "r1"))
	require.NoError(t, err)
	_, err = env.svc.Run(ctx, trigger(filepath.Join(t.TempDir(), "missing.xlsx"), "r2"))
	require.NoError(t, err)

	runs, total, err := env.svc.ListRuns(ctx, domain.RunFilter{Page: domain.PageRequest{MaxResults: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, runs, 2)

	failed := domain.RunStatusFailed
	runs, total, err = env.svc.ListRuns(ctx, domain.RunFilter{Status: &failed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)

	runID := "r1"
	entries, total, err := env.svc.ListAudit(ctx, domain.AuditFilter{RunID: &runID})
	require.NoError(t, err)
	assert.Equal(t, int64(len(entries)), total)
	assert.NotEmpty(t, entries)

	_, err = env.svc.ListRunAudit(ctx, "nope")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestService_RunWaitsAndHonorsContext(t *testing.T) {
	fetcher := newBlockingFetcher()
	env := newTestEnv(t, withFetcher(fetcher))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()
	view, err := env.svc.Run(ctx, trigger("budget.xlsx", "interrupted"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, view.Run.Status)
}

func TestNewService_RejectsBadSynonyms(t *testing.T) {
	env := newTestEnv(t)
	cfg := *env.svc.cfg
	cfg.ColumnSynonyms = map[string][]string{"not_a_field": {"x"}}

	_, err := NewService(env.runs, env.audits, env.budget, env.svc.recorder, env.svc.fetcher, &cfg, env.svc.logger)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestService_ShutdownCancelsInFlightRuns(t *testing.T) {
	fetcher := newBlockingFetcher()
	env := newTestEnv(t, withFetcher(fetcher))
	ctx := context.Background()

	_, err := env.svc.Trigger(ctx, trigger("budget.xlsx", "shutdown"))
	require.NoError(t, err)
	<-fetcher.started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Shutdown(shutdownCtx))

	view, err := env.svc.GetStatus(ctx, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, view.Run.Status)
}
