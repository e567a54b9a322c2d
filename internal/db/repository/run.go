package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"budget-etl/internal/db/dbstore"
	"budget-etl/internal/domain"
)

var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements RunRepository using SQLite.
type RunRepo struct {
	q    *dbstore.Queries
	read *dbstore.Queries
}

// NewRunRepo creates a RunRepo.
func NewRunRepo(write, read *sql.DB) *RunRepo {
	return &RunRepo{q: dbstore.New(write), read: dbstore.New(read)}
}

// CreateRun inserts a new run in PENDING.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	status := run.Status
	if status == "" {
		status = domain.RunStatusPending
	}
	row, err := r.q.CreateRun(ctx, dbstore.CreateRunParams{
		RunID:              run.ID,
		InputFileReference: run.InputFileReference,
		RequestedBy:        run.RequestedBy,
		RequestedAt:        formatTime(run.RequestedAt),
		Status:             status,
	})
	if err != nil {
		if mapped := mapDBError(err); errors.As(mapped, new(*domain.ConflictError)) {
			return nil, domain.ErrConflict("run %q already exists", run.ID)
		}
		return nil, err
	}
	return runFromDB(row)
}

// GetRun returns a run by id.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row, err := r.read.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("run %q not found", id)
		}
		return nil, err
	}
	return runFromDB(row)
}

// ListRuns returns a filtered, paginated list of runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	statusFilter := ""
	if filter.Status != nil {
		statusFilter = *filter.Status
	}

	total, err := r.read.CountRuns(ctx, dbstore.CountRunsParams{
		Column1: statusFilter,
		Status:  statusFilter,
	})
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.read.ListRuns(ctx, dbstore.ListRunsParams{
		Column1: statusFilter,
		Status:  statusFilter,
		Limit:   int64(filter.Page.Limit()),
		Offset:  int64(filter.Page.Offset()),
	})
	if err != nil {
		return nil, 0, err
	}

	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := runFromDB(row)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, nil
}

// ListUnfinishedRuns returns runs that never reached a terminal status.
func (r *RunRepo) ListUnfinishedRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.read.ListUnfinishedRuns(ctx)
	if err != nil {
		return nil, err
	}
	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := runFromDB(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// RestartRun moves a FAILED run back to PENDING with the next attempt number
// and clears its previous sheet results.
func (r *RunRepo) RestartRun(ctx context.Context, id, requestedBy string, requestedAt time.Time) (*domain.Run, error) {
	row, err := r.q.RestartRun(ctx, dbstore.RestartRunParams{
		RequestedBy: requestedBy,
		RequestedAt: formatTime(requestedAt),
		RunID:       id,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConflict("run %q is not in a restartable state", id)
		}
		return nil, err
	}
	if err := r.q.DeleteSheetResultsByRun(ctx, id); err != nil {
		return nil, fmt.Errorf("clear sheet results: %w", err)
	}
	return runFromDB(row)
}

// UpdateRunStatus moves a run to a new non-terminal status.
func (r *RunRepo) UpdateRunStatus(ctx context.Context, id, status string) error {
	return mapDBError(r.q.UpdateRunStatus(ctx, dbstore.UpdateRunStatusParams{
		Status: status,
		RunID:  id,
	}))
}

// MarkRunStarted records the start time of the current attempt.
func (r *RunRepo) MarkRunStarted(ctx context.Context, id string) error {
	now := time.Now()
	return mapDBError(r.q.MarkRunStarted(ctx, dbstore.MarkRunStartedParams{
		StartedAt: nullTime(&now),
		RunID:     id,
	}))
}

// SetFileDigest records the sha256 digest of the input file.
func (r *RunRepo) SetFileDigest(ctx context.Context, id, digest string) error {
	return mapDBError(r.q.SetRunFileDigest(ctx, dbstore.SetRunFileDigestParams{
		FileDigest: sql.NullString{String: digest, Valid: digest != ""},
		RunID:      id,
	}))
}

// FinishRun records the terminal status, error and validation report.
func (r *RunRepo) FinishRun(ctx context.Context, id, status string, errorMsg *string, report *domain.ValidationReport) error {
	var reportCol sql.NullString
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		reportCol = sql.NullString{String: string(b), Valid: true}
	}
	now := time.Now()
	return mapDBError(r.q.FinishRun(ctx, dbstore.FinishRunParams{
		Status:       status,
		ErrorMessage: nullStrFromPtr(errorMsg),
		Report:       reportCol,
		EndedAt:      nullTime(&now),
		RunID:        id,
	}))
}

// UpsertSheetResult inserts or replaces the outcome of one sheet.
func (r *RunRepo) UpsertSheetResult(ctx context.Context, res *domain.SheetResult) error {
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	return mapDBError(r.q.UpsertSheetResult(ctx, dbstore.UpsertSheetResultParams{
		RunID:              res.RunID,
		SheetName:          res.SheetName,
		Status:             res.Status,
		RecordsProcessed:   int64(res.RecordsProcessed),
		RejectedCount:      int64(res.RejectedCount),
		ZeroAmountCount:    int64(res.ZeroAmountCount),
		EmptyCategoryCount: int64(res.EmptyCategoryCount),
		ErrorKind:          nullStrFromPtr(res.ErrorKind),
		ErrorMessage:       nullStrFromPtr(res.ErrorMessage),
		Warnings:           string(warningsJSON),
		UpdatedAt:          formatTime(time.Now()),
	}))
}

// ListSheetResults returns the per-sheet outcomes of a run.
func (r *RunRepo) ListSheetResults(ctx context.Context, runID string) ([]domain.SheetResult, error) {
	rows, err := r.read.ListSheetResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SheetResult, 0, len(rows))
	for _, row := range rows {
		var warnings []string
		if err := json.Unmarshal([]byte(row.Warnings), &warnings); err != nil {
			return nil, fmt.Errorf("sheet %q: decode warnings: %w", row.SheetName, err)
		}
		out = append(out, domain.SheetResult{
			RunID:              row.RunID,
			SheetName:          row.SheetName,
			Status:             row.Status,
			RecordsProcessed:   int(row.RecordsProcessed),
			RejectedCount:      int(row.RejectedCount),
			ZeroAmountCount:    int(row.ZeroAmountCount),
			EmptyCategoryCount: int(row.EmptyCategoryCount),
			ErrorKind:          ptrFromNullStr(row.ErrorKind),
			ErrorMessage:       ptrFromNullStr(row.ErrorMessage),
			Warnings:           warnings,
		})
	}
	return out, nil
}

func runFromDB(row dbstore.EtlRun) (*domain.Run, error) {
	run := &domain.Run{
		ID:                 row.RunID,
		InputFileReference: row.InputFileReference,
		FileDigest:         ptrFromNullStr(row.FileDigest),
		RequestedBy:        row.RequestedBy,
		RequestedAt:        parseTime(row.RequestedAt),
		Status:             row.Status,
		Attempt:            int(row.Attempt),
		StartedAt:          parseNullTime(row.StartedAt),
		EndedAt:            parseNullTime(row.EndedAt),
		ErrorMessage:       ptrFromNullStr(row.ErrorMessage),
		CreatedAt:          parseTime(row.CreatedAt),
	}
	if row.Report.Valid && row.Report.String != "" {
		var report domain.ValidationReport
		if err := json.Unmarshal([]byte(row.Report.String), &report); err != nil {
			return nil, fmt.Errorf("run %q: decode report: %w", row.RunID, err)
		}
		run.Report = &report
	}
	return run, nil
}
