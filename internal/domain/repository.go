package domain

import (
	"context"
	"time"
)

// BudgetRepository is the relational sink for budget records and summaries.
type BudgetRepository interface {
	// CommitBatches upserts every record and replaces the run's summaries for
	// each sheet in a single transaction. It returns the number of records written.
	CommitBatches(ctx context.Context, runID string, batches []SheetBatch) (int, error)
	GetRecordsByID(ctx context.Context, recordIDs []string) ([]BudgetRecord, error)
	ListSummariesByRun(ctx context.Context, runID string) ([]BudgetSummary, error)
}

// AuditRepository stores audit entries.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
	ListByRun(ctx context.Context, runID string) ([]AuditEntry, error)
	// ListOpen returns started entries of the run's latest attempt that have
	// no terminal entry yet.
	ListOpen(ctx context.Context, runID string) ([]AuditEntry, error)
}

// RunRepository stores runs and their per-sheet results.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, int64, error)
	ListUnfinishedRuns(ctx context.Context) ([]Run, error)
	// RestartRun bumps the attempt counter of a failed run and resets it to PENDING.
	RestartRun(ctx context.Context, id, requestedBy string, requestedAt time.Time) (*Run, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	MarkRunStarted(ctx context.Context, id string) error
	SetFileDigest(ctx context.Context, id, digest string) error
	FinishRun(ctx context.Context, id, status string, errorMsg *string, report *ValidationReport) error
	UpsertSheetResult(ctx context.Context, r *SheetResult) error
	ListSheetResults(ctx context.Context, runID string) ([]SheetResult, error)
}
