// Package pipeline runs the extract, transform, load and validate stages for
// one budget workbook per run and tracks runs through their state machine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"budget-etl/internal/config"
	"budget-etl/internal/domain"
	"budget-etl/internal/service/audit"
	"budget-etl/internal/service/extract"
	"budget-etl/internal/service/retry"
	"budget-etl/internal/service/transform"
)

// InputFetcher resolves an input file reference to a local file.
type InputFetcher interface {
	Fetch(ctx context.Context, ref string) (*extract.Input, error)
}

// Service accepts triggers, executes runs in the background and answers
// status queries.
type Service struct {
	runs     domain.RunRepository
	audits   domain.AuditRepository
	budget   domain.BudgetRepository
	recorder *audit.Recorder
	fetcher  InputFetcher
	cfg      *config.PipelineConfig
	mapper   *transform.ColumnMapper
	logger   *slog.Logger
	validate *validator.Validate

	registry *registry
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewService creates a Service. It fails when the column synonym table is
// inconsistent.
func NewService(
	runs domain.RunRepository,
	audits domain.AuditRepository,
	budget domain.BudgetRepository,
	recorder *audit.Recorder,
	fetcher InputFetcher,
	cfg *config.PipelineConfig,
	logger *slog.Logger,
) (*Service, error) {
	mapper, err := transform.NewColumnMapper(cfg.ColumnSynonyms)
	if err != nil {
		return nil, err
	}
	return &Service{
		runs:     runs,
		audits:   audits,
		budget:   budget,
		recorder: recorder,
		fetcher:  fetcher,
		cfg:      cfg,
		mapper:   mapper,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		registry: newRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) retryPolicy() retry.Policy {
	return retry.Policy{Retries: s.cfg.RetryAttempts, Base: s.cfg.RetryBackoffBase}
}

// === Run Operations ===

// Trigger validates req, records the run and starts executing it in the
// background. A run id that is in flight, or that has unfinished audit
// entries, is rejected with a ConflictError. A FAILED run may be triggered
// again under the same id; it restarts as the next attempt.
func (s *Service) Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error) {
	run, _, err := s.start(ctx, req)
	if err != nil {
		return nil, err
	}
	return &domain.TriggerResult{RunID: run.ID, InitialStatus: run.Status}, nil
}

// Run triggers a run and waits for it to finish.
func (s *Service) Run(ctx context.Context, req domain.TriggerRequest) (*domain.RunStatusView, error) {
	run, f, err := s.start(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		s.registry.cancel(run.ID)
		<-f.done
	}
	return s.GetStatus(context.WithoutCancel(ctx), run.ID)
}

func (s *Service) start(ctx context.Context, req domain.TriggerRequest) (*domain.Run, *inflight, error) {
	if err := s.validateTrigger(&req); err != nil {
		return nil, nil, err
	}
	if req.RunID == "" {
		req.RunID = domain.NewID()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f, err := s.registry.acquire(req.RunID, cancel)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	run, err := s.claimRun(ctx, req)
	if err != nil {
		s.registry.release(req.RunID)
		cancel()
		return nil, nil, err
	}

	s.logger.Info("run accepted", "run_id", run.ID, "attempt", run.Attempt,
		"input", run.InputFileReference, "requested_by", run.RequestedBy)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.release(run.ID)
		defer cancel()
		s.executeRun(runCtx, run)
	}()
	return run, f, nil
}

func (s *Service) validateTrigger(req *domain.TriggerRequest) error {
	req.InputFileReference = strings.TrimSpace(req.InputFileReference)
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	req.RunID = strings.TrimSpace(req.RunID)
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return domain.ErrValidation("invalid trigger: %s", strings.Join(msgs, "; "))
		}
		return domain.ErrValidation("invalid trigger: %v", err)
	}
	return nil
}

// claimRun creates the run record, or restarts a FAILED run with the same id.
func (s *Service) claimRun(ctx context.Context, req domain.TriggerRequest) (*domain.Run, error) {
	open, err := s.audits.ListOpen(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("check open audit entries: %w", err)
	}
	if len(open) > 0 {
		return nil, domain.ErrConflict("run %q has %d unfinished audit entries", req.RunID, len(open))
	}

	existing, err := s.runs.GetRun(ctx, req.RunID)
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return s.runs.CreateRun(ctx, &domain.Run{
			ID:                 req.RunID,
			InputFileReference: req.InputFileReference,
			RequestedBy:        req.RequestedBy,
			RequestedAt:        req.Timestamp,
			Status:             domain.RunStatusPending,
			Attempt:            1,
		})
	case err != nil:
		return nil, err
	}

	if existing.InputFileReference != req.InputFileReference {
		return nil, domain.ErrConflict("run %q was created for %s", req.RunID, existing.InputFileReference)
	}
	if existing.Status != domain.RunStatusFailed {
		return nil, domain.ErrConflict("run %q already exists with status %s", req.RunID, existing.Status)
	}
	return s.runs.RestartRun(ctx, req.RunID, req.RequestedBy, req.Timestamp)
}

// GetStatus returns a run with its per-sheet results.
func (s *Service) GetStatus(ctx context.Context, runID string) (*domain.RunStatusView, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	sheets, err := s.runs.ListSheetResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &domain.RunStatusView{Run: *run, Sheets: sheets}, nil
}

// ListRuns lists runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	return s.runs.ListRuns(ctx, filter)
}

// ListAudit lists audit entries.
func (s *Service) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	return s.audits.List(ctx, filter)
}

// ListRunAudit lists the audit entries of one run in write order.
func (s *Service) ListRunAudit(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.audits.ListByRun(ctx, runID)
}

// Cancel requests cancellation of an in-flight run. The run stops at the
// next stage boundary; a commit already under way completes first.
func (s *Service) Cancel(ctx context.Context, runID, principal string) error {
	if s.registry.cancel(runID) {
		s.logger.Info("run cancellation requested", "run_id", runID, "principal", principal)
		return nil
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return domain.ErrValidation("cannot cancel run with status %s", run.Status)
}

// RecoverInterrupted marks runs left unfinished by a previous process as
// FAILED and closes their open audit entries. It returns how many runs
// were recovered.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	runs, err := s.runs.ListUnfinishedRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		if s.registry.inFlight(run.ID) {
			continue
		}
		interrupted := domain.NewPipelineError(domain.KindInterrupted, "process stopped while run was %s", run.Status)

		open, err := s.audits.ListOpen(ctx, run.ID)
		if err != nil {
			return recovered, fmt.Errorf("list open audit entries for %s: %w", run.ID, err)
		}
		for _, e := range open {
			s.recorder.Complete(ctx, audit.Task{
				RunID:         e.RunID,
				RunAttempt:    e.RunAttempt,
				TaskID:        e.TaskID,
				SheetName:     e.SheetName,
				Attempt:       e.Attempt,
				ExecutionDate: e.ExecutionDate,
			}, domain.AuditStatusFailed, 0, interrupted)
		}

		msg := interrupted.Error()
		if err := s.runs.FinishRun(ctx, run.ID, domain.RunStatusFailed, &msg, nil); err != nil {
			return recovered, fmt.Errorf("finish interrupted run %s: %w", run.ID, err)
		}
		s.logger.Warn("marked interrupted run as failed", "run_id", run.ID, "status", run.Status)
		recovered++
	}
	return recovered, nil
}

// Wait blocks until every run started by this Service has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels in-flight runs and waits for them to stop, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, done := range s.registry.cancelAll() {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.wg.Wait()
	return nil
}
