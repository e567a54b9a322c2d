package repository

import (
	"context"
	"database/sql"
	"time"

	"budget-etl/internal/db/dbstore"
	"budget-etl/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo implements AuditRepository using SQLite.
type AuditRepo struct {
	q    *dbstore.Queries
	read *dbstore.Queries
}

// NewAuditRepo creates an AuditRepo.
func NewAuditRepo(write, read *sql.DB) *AuditRepo {
	return &AuditRepo{q: dbstore.New(write), read: dbstore.New(read)}
}

// Insert appends an entry and sets its ID.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	id, err := r.q.InsertAuditEntry(ctx, dbstore.InsertAuditEntryParams{
		RunID:            e.RunID,
		RunAttempt:       int64(max(e.RunAttempt, 1)),
		TaskID:           e.TaskID,
		SheetName:        e.SheetName,
		Attempt:          int64(max(e.Attempt, 1)),
		ExecutionDate:    formatTime(e.ExecutionDate),
		Status:           e.Status,
		RecordsProcessed: int64(e.RecordsProcessed),
		ErrorKind:        nullStrFromPtr(e.ErrorKind),
		ErrorMessage:     nullStrFromPtr(e.ErrorMessage),
		CreatedAt:        formatTime(e.CreatedAt),
	})
	if err != nil {
		return mapDBError(err)
	}
	e.ID = id
	return nil
}

// List returns a filtered, paginated list of entries, newest first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	var runID, taskID, status string
	if filter.RunID != nil {
		runID = *filter.RunID
	}
	if filter.TaskID != nil {
		taskID = *filter.TaskID
	}
	if filter.Status != nil {
		status = *filter.Status
	}

	total, err := r.read.CountAuditEntries(ctx, dbstore.CountAuditEntriesParams{
		Column1: runID,
		RunID:   runID,
		Column3: taskID,
		TaskID:  taskID,
		Column5: status,
		Status:  status,
	})
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.read.ListAuditEntries(ctx, dbstore.ListAuditEntriesParams{
		Column1: runID,
		RunID:   runID,
		Column3: taskID,
		TaskID:  taskID,
		Column5: status,
		Status:  status,
		Limit:   int64(filter.Page.Limit()),
		Offset:  int64(filter.Page.Offset()),
	})
	if err != nil {
		return nil, 0, err
	}
	return auditEntriesFromDB(rows), total, nil
}

// ListByRun returns every entry of a run in insertion order.
func (r *AuditRepo) ListByRun(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	rows, err := r.read.ListAuditEntriesByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return auditEntriesFromDB(rows), nil
}

// ListOpen returns started entries of the run's latest attempt that were
// never closed by a terminal entry.
func (r *AuditRepo) ListOpen(ctx context.Context, runID string) ([]domain.AuditEntry, error) {
	rows, err := r.read.ListOpenAuditEntries(ctx, runID)
	if err != nil {
		return nil, err
	}
	return auditEntriesFromDB(rows), nil
}

func auditEntriesFromDB(rows []dbstore.EtlAudit) []domain.AuditEntry {
	entries := make([]domain.AuditEntry, len(rows))
	for i, row := range rows {
		entries[i] = domain.AuditEntry{
			ID:               row.ID,
			RunID:            row.RunID,
			RunAttempt:       int(row.RunAttempt),
			TaskID:           row.TaskID,
			SheetName:        row.SheetName,
			Attempt:          int(row.Attempt),
			ExecutionDate:    parseTime(row.ExecutionDate),
			Status:           row.Status,
			RecordsProcessed: int(row.RecordsProcessed),
			ErrorKind:        ptrFromNullStr(row.ErrorKind),
			ErrorMessage:     ptrFromNullStr(row.ErrorMessage),
			CreatedAt:        parseTime(row.CreatedAt),
		}
	}
	return entries
}
