package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"budget-etl/internal/domain"
	"budget-etl/internal/service/aggregate"
	"budget-etl/internal/service/audit"
	"budget-etl/internal/service/extract"
	"budget-etl/internal/service/load"
	"budget-etl/internal/service/retry"
	"budget-etl/internal/service/transform"
)

// maxRejectionWarnings bounds how many rejected rows are listed per sheet.
const maxRejectionWarnings = 5

// sheetState carries one sheet through the stages. err is set when the
// sheet is dropped; the run continues without it.
type sheetState struct {
	name     string
	raw      *extract.RawSheet
	mapping  *transform.Mapping
	outcome  *transform.SheetOutcome
	batch    domain.SheetBatch
	warnings []string
	err      error
}

func (st *sheetState) alive() bool { return st.err == nil }

// taskState tracks one audited task of the run.
type taskState struct {
	task  audit.Task
	begun bool
	done  bool
}

// runContext is threaded through every stage of one run.
type runContext struct {
	run         *domain.Run
	logger      *slog.Logger
	startedAt   time.Time
	processedAt time.Time

	input     *extract.Input
	sheets    []*sheetState
	committer *load.Committer
	loaded    bool
	written   int
	report    *domain.ValidationReport

	tasks     map[string]*taskState
	taskOrder []string
}

func taskKey(taskID, sheet string) string { return taskID + "\x00" + sheet }

func (rc *runContext) survivors() []*sheetState {
	var out []*sheetState
	for _, st := range rc.sheets {
		if st.alive() {
			out = append(out, st)
		}
	}
	return out
}

func (rc *runContext) skipped() int {
	return len(rc.sheets) - len(rc.survivors())
}

func (rc *runContext) batches() []domain.SheetBatch {
	var out []domain.SheetBatch
	for _, st := range rc.survivors() {
		out = append(out, st.batch)
	}
	return out
}

type stage struct {
	status string
	run    func(ctx context.Context, rc *runContext) error
}

// executeRun drives a run through its stages and records the outcome. It
// runs in its own goroutine.
func (s *Service) executeRun(ctx context.Context, run *domain.Run) {
	now := s.now()
	rc := &runContext{
		run:         run,
		logger:      s.logger.With("run_id", run.ID, "attempt", run.Attempt),
		startedAt:   now,
		processedAt: now,
		tasks:       make(map[string]*taskState),
	}
	rc.expectTask(domain.TaskExtract, "")
	rc.expectTask(domain.TaskLoad, "")
	rc.expectTask(domain.TaskValidate, "")

	defer func() {
		if rc.committer != nil {
			rc.committer.Abort()
		}
		if rc.input != nil {
			if err := rc.input.Close(); err != nil {
				rc.logger.Warn("remove downloaded input", "error", err)
			}
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			rc.logger.Error("pipeline run panicked", "error", err)
			s.finish(ctx, rc, domain.RunStatusFailed, err)
		}
	}()

	if err := s.runs.MarkRunStarted(ctx, run.ID); err != nil {
		rc.logger.Error("failed to mark run started", "error", err)
		s.finish(ctx, rc, domain.RunStatusFailed, err)
		return
	}
	rc.logger.Info("run started", "input", run.InputFileReference)

	status, err := s.runStages(ctx, rc)
	s.finish(ctx, rc, status, err)
}

func (s *Service) runStages(ctx context.Context, rc *runContext) (string, error) {
	stages := []stage{
		{domain.RunStatusExtracting, s.extractStage},
		{domain.RunStatusMapping, s.mapStage},
		{domain.RunStatusNormalizing, s.normalizeStage},
		{domain.RunStatusAggregating, s.aggregateStage},
		{domain.RunStatusLoading, s.loadStage},
		{domain.RunStatusValidating, s.validateStage},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return domain.RunStatusCancelled, domain.WrapPipelineError(domain.KindCancelled, false, err,
				"cancelled before %s", st.status)
		}
		if err := s.runs.UpdateRunStatus(ctx, rc.run.ID, st.status); err != nil {
			return domain.RunStatusFailed, fmt.Errorf("set status %s: %w", st.status, err)
		}
		rc.logger.Debug("stage started", "stage", st.status)

		stageCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		err := st.run(stageCtx, rc)
		timedOut := errors.Is(stageCtx.Err(), context.DeadlineExceeded)
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil && errors.Is(err, context.Canceled):
			return domain.RunStatusCancelled, domain.WrapPipelineError(domain.KindCancelled, false, ctx.Err(),
				"cancelled during %s", st.status)
		case timedOut && errors.Is(err, context.DeadlineExceeded):
			return domain.RunStatusFailed, fmt.Errorf("%s stage exceeded timeout of %s: %w", st.status, s.cfg.StageTimeout, err)
		default:
			return domain.RunStatusFailed, err
		}
	}

	if rc.skipped() > 0 {
		return domain.RunStatusPartial, nil
	}
	return domain.RunStatusSucceeded, nil
}

// === Stages ===

func (s *Service) extractStage(ctx context.Context, rc *runContext) error {
	err := retry.Do(ctx, s.retryPolicy(), rc.logger.With("stage", domain.RunStatusExtracting),
		func(ctx context.Context, attempt int) error {
			s.begin(ctx, rc, domain.TaskExtract, "", attempt)
			return s.extractOnce(ctx, rc)
		})
	if err != nil {
		s.complete(ctx, rc, domain.TaskExtract, "", domain.AuditStatusFailed, 0, err)
		return err
	}

	rows := 0
	for _, st := range rc.sheets {
		rc.expectTask(domain.TaskTransform, st.name)
		if st.raw != nil {
			rows += len(st.raw.Rows)
		}
	}
	s.complete(ctx, rc, domain.TaskExtract, "", domain.AuditStatusSuccess, rows, nil)
	rc.logger.Info("extracted workbook", "sheets", len(rc.sheets), "rows", rows)
	return nil
}

func (s *Service) extractOnce(ctx context.Context, rc *runContext) error {
	if rc.input == nil {
		in, err := s.fetcher.Fetch(ctx, rc.run.InputFileReference)
		if err != nil {
			return err
		}
		rc.input = in
		if err := s.runs.SetFileDigest(ctx, rc.run.ID, in.Digest); err != nil {
			rc.logger.Warn("record file digest", "error", err)
		}
	}

	wb, err := extract.OpenInput(rc.input)
	if err != nil {
		return err
	}
	defer wb.Close() //nolint:errcheck

	sheets := make([]*sheetState, 0, len(wb.SheetNames()))
	for _, name := range wb.SheetNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := wb.ReadSheet(ctx, name)
		st := &sheetState{name: name, raw: raw}
		if err != nil {
			if domain.KindOf(err).Scope() != domain.ScopeSheet {
				return err
			}
			st.err = err
		}
		sheets = append(sheets, st)
	}
	rc.sheets = sheets
	return nil
}

func (s *Service) mapStage(ctx context.Context, rc *runContext) error {
	for _, st := range rc.sheets {
		s.begin(ctx, rc, domain.TaskTransform, st.name, 1)
		if !st.alive() {
			s.sheetFailed(ctx, rc, st)
		}
	}
	return s.forEachSheet(ctx, rc, func(_ context.Context, st *sheetState) error {
		m, err := s.mapper.Map(st.name, st.raw.Header)
		if err != nil {
			return err
		}
		st.mapping = m
		st.warnings = append(st.warnings, m.Warnings...)
		return nil
	})
}

func (s *Service) normalizeStage(ctx context.Context, rc *runContext) error {
	return s.forEachSheet(ctx, rc, func(_ context.Context, st *sheetState) error {
		rule, _ := s.cfg.RuleFor(st.name)
		out, err := transform.NormalizeSheet(st.raw, st.mapping, transform.SheetOptions{
			RunID:              rc.run.ID,
			FileIdentity:       rc.input.Digest,
			SourceFile:         rc.input.Name,
			ProcessedAt:        rc.processedAt,
			AllowNegative:      s.cfg.AllowNegativeFor(st.name),
			RuleFiscalYear:     rule.FiscalYear,
			FutureTolerance:    s.cfg.FiscalYearFutureTolerance,
			RejectionThreshold: s.cfg.RejectionThreshold,
		})
		st.outcome = out
		st.raw = nil
		if out != nil {
			st.warnings = append(st.warnings, rejectionWarnings(out)...)
		}
		return err
	})
}

func (s *Service) aggregateStage(ctx context.Context, rc *runContext) error {
	rc.committer = load.NewCommitter(s.budget, rc.run.ID, s.cfg.CommitQueueSize, s.retryPolicy(), rc.logger)

	err := s.forEachSheet(ctx, rc, func(ctx context.Context, st *sheetState) error {
		st.batch = domain.SheetBatch{
			SheetName: st.name,
			Records:   st.outcome.Records,
			Summaries: aggregate.Summarize(st.name, rc.run.ID, st.outcome.Records, rc.processedAt),
		}
		if err := rc.committer.Submit(ctx, st.batch); err != nil {
			return err
		}
		s.complete(ctx, rc, domain.TaskTransform, st.name, domain.AuditStatusSuccess, len(st.batch.Records), nil)
		return nil
	})
	if err != nil {
		return err
	}

	s.writeSheetResults(ctx, rc, domain.SheetStatusPending, nil)
	if len(rc.survivors()) == 0 {
		return domain.NewPipelineError(domain.KindNoSheetsSurvived, "none of %d sheets could be loaded", len(rc.sheets))
	}
	return nil
}

func (s *Service) loadStage(ctx context.Context, rc *runContext) error {
	written, err := rc.committer.Commit(ctx, func(attempt int) {
		s.begin(ctx, rc, domain.TaskLoad, "", attempt)
	})
	if err != nil {
		s.complete(ctx, rc, domain.TaskLoad, "", domain.AuditStatusFailed, 0, err)
		return err
	}
	rc.loaded = true
	rc.written = written
	s.complete(ctx, rc, domain.TaskLoad, "", domain.AuditStatusSuccess, written, nil)
	rc.logger.Info("records committed", "records", written, "sheets", len(rc.survivors()))
	return nil
}

// validateStage retries reconciliation when reading back from the sink
// fails transiently; a mismatch is final.
func (s *Service) validateStage(ctx context.Context, rc *runContext) error {
	err := retry.Do(ctx, s.retryPolicy(), rc.logger.With("stage", domain.RunStatusValidating),
		func(ctx context.Context, attempt int) error {
			s.begin(ctx, rc, domain.TaskValidate, "", attempt)
			report, err := s.reconcile(ctx, rc)
			rc.report = report
			return err
		})
	if err != nil {
		s.complete(ctx, rc, domain.TaskValidate, "", domain.AuditStatusFailed, 0, err)
		return err
	}
	s.complete(ctx, rc, domain.TaskValidate, "", domain.AuditStatusSuccess, rc.written, nil)
	return nil
}

// forEachSheet runs fn for every surviving sheet on the worker pool. A
// sheet whose fn fails is dropped from the run; only a stage-level failure
// of ctx is returned.
func (s *Service) forEachSheet(ctx context.Context, rc *runContext, fn func(ctx context.Context, st *sheetState) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, st := range rc.survivors() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := fn(gctx, st)
			if err == nil {
				return nil
			}
			if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
				return err
			}
			st.err = err
			s.sheetFailed(gctx, rc, st)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) sheetFailed(ctx context.Context, rc *runContext, st *sheetState) {
	rc.logger.Warn("sheet skipped", "sheet", st.name, "error_kind", domain.KindOf(st.err), "error", st.err)
	records := 0
	if st.outcome != nil {
		records = len(st.outcome.Records)
	}
	s.complete(ctx, rc, domain.TaskTransform, st.name, domain.AuditStatusFailed, records, st.err)
}

func rejectionWarnings(out *transform.SheetOutcome) []string {
	var warnings []string
	for i, r := range out.Rejections {
		if i == maxRejectionWarnings {
			warnings = append(warnings, fmt.Sprintf("%d more rejected rows", len(out.Rejections)-i))
			break
		}
		warnings = append(warnings, fmt.Sprintf("row %d: %s: %s", r.Row, r.Kind, r.Message))
	}
	return warnings
}

// === Audit bookkeeping ===

func (rc *runContext) expectTask(taskID, sheet string) *taskState {
	key := taskKey(taskID, sheet)
	if ts, ok := rc.tasks[key]; ok {
		return ts
	}
	ts := &taskState{task: audit.Task{
		RunID:         rc.run.ID,
		RunAttempt:    rc.run.Attempt,
		TaskID:        taskID,
		SheetName:     sheet,
		Attempt:       1,
		ExecutionDate: rc.run.RequestedAt,
	}}
	rc.tasks[key] = ts
	rc.taskOrder = append(rc.taskOrder, key)
	return ts
}

// begin and complete are called from sheet workers, but each worker only
// touches its own sheet's task, and the task map is filled before the
// workers start.
func (s *Service) begin(ctx context.Context, rc *runContext, taskID, sheet string, attempt int) {
	ts := rc.tasks[taskKey(taskID, sheet)]
	ts.task.Attempt = attempt
	ts.begun = true
	s.recorder.Begin(ctx, ts.task)
}

func (s *Service) complete(ctx context.Context, rc *runContext, taskID, sheet, status string, records int, err error) {
	ts := rc.tasks[taskKey(taskID, sheet)]
	if ts.done {
		return
	}
	ts.done = true
	s.recorder.Complete(ctx, ts.task, status, records, err)
}

// closeTasks gives every task without a terminal entry one: failed if it
// started, skipped if it never did.
func (s *Service) closeTasks(ctx context.Context, rc *runContext, cause error) {
	for _, key := range rc.taskOrder {
		ts := rc.tasks[key]
		if ts.done {
			continue
		}
		ts.done = true
		status := domain.AuditStatusSkipped
		if ts.begun {
			status = domain.AuditStatusFailed
		}
		s.recorder.Complete(ctx, ts.task, status, 0, cause)
	}
}

// === Finish ===

func (s *Service) finish(ctx context.Context, rc *runContext, status string, runErr error) {
	ctx = context.WithoutCancel(ctx)

	s.closeTasks(ctx, rc, runErr)

	sheetStatus := domain.SheetStatusFailed
	switch {
	case rc.loaded:
		sheetStatus = domain.SheetStatusLoaded
	case status == domain.RunStatusCancelled:
		sheetStatus = domain.SheetStatusSkipped
	}
	s.writeSheetResults(ctx, rc, sheetStatus, runErr)

	report := rc.report
	if report == nil {
		report = s.baseReport(rc)
		if runErr != nil {
			report.Status = domain.ReportStatusError
			report.IssuesFound = append(report.IssuesFound, runErr.Error())
		}
	}
	report.EndedAt = s.now()

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := s.runs.FinishRun(ctx, rc.run.ID, status, errMsg, report); err != nil {
		rc.logger.Error("failed to record run outcome", "status", status, "error", err)
	}

	attrs := []any{"status", status, "records", rc.written, "sheets_loaded", len(rc.survivors()), "sheets_skipped", rc.skipped()}
	switch status {
	case domain.RunStatusSucceeded:
		rc.logger.Info("run finished", attrs...)
	case domain.RunStatusPartial, domain.RunStatusCancelled:
		rc.logger.Warn("run finished", append(attrs, "error", runErr)...)
	default:
		rc.logger.Error("run finished", append(attrs, "error_kind", domain.KindOf(runErr), "error", runErr)...)
	}
}

// writeSheetResults records every sheet's outcome. Dropped sheets are
// SKIPPED with their own error; survivors get survivorStatus.
func (s *Service) writeSheetResults(ctx context.Context, rc *runContext, survivorStatus string, runErr error) {
	for _, st := range rc.sheets {
		res := &domain.SheetResult{
			RunID:     rc.run.ID,
			SheetName: st.name,
			Status:    survivorStatus,
			Warnings:  st.warnings,
		}
		if st.outcome != nil {
			res.RecordsProcessed = len(st.outcome.Records)
			res.RejectedCount = len(st.outcome.Rejections)
			res.ZeroAmountCount = st.outcome.ZeroAmount
			res.EmptyCategoryCount = st.outcome.EmptyCategory
		}

		cause := runErr
		if !st.alive() {
			res.Status = domain.SheetStatusSkipped
			cause = st.err
		}
		if cause != nil && res.Status != domain.SheetStatusLoaded && res.Status != domain.SheetStatusPending {
			msg := cause.Error()
			res.ErrorMessage = &msg
			if kind := domain.KindOf(cause); kind != "" {
				k := string(kind)
				res.ErrorKind = &k
			}
		}

		if err := s.runs.UpsertSheetResult(ctx, res); err != nil {
			rc.logger.Error("failed to record sheet result", "sheet", st.name, "error", err)
		}
	}
}
