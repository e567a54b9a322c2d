// Package audit records one entry per pipeline task attempt. Entries that
// cannot reach the sink are appended to a JSON-lines fallback file and can
// be replayed later.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"budget-etl/internal/domain"
)

// Task identifies one audited unit of work.
type Task struct {
	RunID         string
	RunAttempt    int
	TaskID        string
	SheetName     string
	Attempt       int
	ExecutionDate time.Time
}

// Recorder writes audit entries. A failed write never fails the caller.
type Recorder struct {
	repo         domain.AuditRepository
	fallbackPath string
	logger       *slog.Logger

	mu sync.Mutex // guards the fallback file
}

// NewRecorder creates a Recorder. An empty fallbackPath disables the
// fallback file; failed writes are then only logged.
func NewRecorder(repo domain.AuditRepository, fallbackPath string, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, fallbackPath: fallbackPath, logger: logger}
}

// Begin records that a task attempt started.
func (r *Recorder) Begin(ctx context.Context, t Task) {
	r.write(ctx, t.entry(domain.AuditStatusStarted, 0, nil))
}

// Complete records the terminal status of a task attempt.
func (r *Recorder) Complete(ctx context.Context, t Task, status string, recordsProcessed int, err error) {
	r.write(ctx, t.entry(status, recordsProcessed, err))
}

func (t Task) entry(status string, records int, err error) *domain.AuditEntry {
	e := &domain.AuditEntry{
		RunID:            t.RunID,
		RunAttempt:       t.RunAttempt,
		TaskID:           t.TaskID,
		SheetName:        t.SheetName,
		Attempt:          t.Attempt,
		ExecutionDate:    t.ExecutionDate,
		Status:           status,
		RecordsProcessed: records,
		CreatedAt:        time.Now().UTC(),
	}
	if err != nil {
		msg := err.Error()
		e.ErrorMessage = &msg
		if kind := domain.KindOf(err); kind != "" {
			k := string(kind)
			e.ErrorKind = &k
		}
	}
	return e
}

func (r *Recorder) write(ctx context.Context, e *domain.AuditEntry) {
	ctx = context.WithoutCancel(ctx)
	err := r.repo.Insert(ctx, e)
	if err == nil {
		return
	}

	logger := r.logger.With("run_id", e.RunID, "task_id", e.TaskID, "sheet", e.SheetName, "status", e.Status)
	if r.fallbackPath == "" {
		logger.Error("audit write failed", "error", err)
		return
	}
	if ferr := r.appendFallback(e); ferr != nil {
		logger.Error("audit write failed; fallback also failed", "error", err, "fallback_error", ferr)
		return
	}
	logger.Warn("audit write failed; entry saved to fallback file", "error", err, "path", r.fallbackPath)
}
