// Queries from internal/db/queries/audit.sql.

package dbstore

import (
	"context"
	"database/sql"
)

const countAuditEntries = `-- name: CountAuditEntries :one
SELECT COUNT(*) FROM etl_audit
WHERE (CAST(? AS TEXT) = '' OR run_id = ?)
  AND (CAST(? AS TEXT) = '' OR task_id = ?)
  AND (CAST(? AS TEXT) = '' OR status = ?)
`

type CountAuditEntriesParams struct {
	Column1 string
	RunID   string
	Column3 string
	TaskID  string
	Column5 string
	Status  string
}

func (q *Queries) CountAuditEntries(ctx context.Context, arg CountAuditEntriesParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAuditEntries,
		arg.Column1,
		arg.RunID,
		arg.Column3,
		arg.TaskID,
		arg.Column5,
		arg.Status,
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const insertAuditEntry = `-- name: InsertAuditEntry :execlastid
INSERT INTO etl_audit (
    run_id, run_attempt, task_id, sheet_name, attempt, execution_date,
    status, records_processed, error_kind, error_message, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertAuditEntryParams struct {
	RunID            string
	RunAttempt       int64
	TaskID           string
	SheetName        string
	Attempt          int64
	ExecutionDate    string
	Status           string
	RecordsProcessed int64
	ErrorKind        sql.NullString
	ErrorMessage     sql.NullString
	CreatedAt        string
}

func (q *Queries) InsertAuditEntry(ctx context.Context, arg InsertAuditEntryParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertAuditEntry,
		arg.RunID,
		arg.RunAttempt,
		arg.TaskID,
		arg.SheetName,
		arg.Attempt,
		arg.ExecutionDate,
		arg.Status,
		arg.RecordsProcessed,
		arg.ErrorKind,
		arg.ErrorMessage,
		arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const listAuditEntries = `-- name: ListAuditEntries :many
SELECT id, run_id, run_attempt, task_id, sheet_name, attempt, execution_date,
       status, records_processed, error_kind, error_message, created_at
FROM etl_audit
WHERE (CAST(? AS TEXT) = '' OR run_id = ?)
  AND (CAST(? AS TEXT) = '' OR task_id = ?)
  AND (CAST(? AS TEXT) = '' OR status = ?)
ORDER BY id DESC
LIMIT ? OFFSET ?
`

type ListAuditEntriesParams struct {
	Column1 string
	RunID   string
	Column3 string
	TaskID  string
	Column5 string
	Status  string
	Limit   int64
	Offset  int64
}

func (q *Queries) ListAuditEntries(ctx context.Context, arg ListAuditEntriesParams) ([]EtlAudit, error) {
	rows, err := q.db.QueryContext(ctx, listAuditEntries,
		arg.Column1,
		arg.RunID,
		arg.Column3,
		arg.TaskID,
		arg.Column5,
		arg.Status,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return scanEtlAuditRows(rows)
}

const listAuditEntriesByRun = `-- name: ListAuditEntriesByRun :many
SELECT id, run_id, run_attempt, task_id, sheet_name, attempt, execution_date,
       status, records_processed, error_kind, error_message, created_at
FROM etl_audit
WHERE run_id = ?
ORDER BY id
`

func (q *Queries) ListAuditEntriesByRun(ctx context.Context, runID string) ([]EtlAudit, error) {
	rows, err := q.db.QueryContext(ctx, listAuditEntriesByRun, runID)
	if err != nil {
		return nil, err
	}
	return scanEtlAuditRows(rows)
}

const listOpenAuditEntries = `-- name: ListOpenAuditEntries :many
SELECT a.id, a.run_id, a.run_attempt, a.task_id, a.sheet_name, a.attempt, a.execution_date,
       a.status, a.records_processed, a.error_kind, a.error_message, a.created_at
FROM etl_audit a
WHERE a.run_id = ?
  AND a.status = 'started'
  AND a.run_attempt = (SELECT MAX(m.run_attempt) FROM etl_audit m WHERE m.run_id = a.run_id)
  AND NOT EXISTS (
      SELECT 1 FROM etl_audit t
      WHERE t.run_id = a.run_id
        AND t.run_attempt = a.run_attempt
        AND t.task_id = a.task_id
        AND t.sheet_name = a.sheet_name
        AND t.status <> 'started'
  )
ORDER BY a.id
`

func (q *Queries) ListOpenAuditEntries(ctx context.Context, runID string) ([]EtlAudit, error) {
	rows, err := q.db.QueryContext(ctx, listOpenAuditEntries, runID)
	if err != nil {
		return nil, err
	}
	return scanEtlAuditRows(rows)
}

func scanEtlAuditRows(rows *sql.Rows) ([]EtlAudit, error) {
	defer rows.Close()
	var items []EtlAudit
	for rows.Next() {
		var i EtlAudit
		if err := rows.Scan(
			&i.ID,
			&i.RunID,
			&i.RunAttempt,
			&i.TaskID,
			&i.SheetName,
			&i.Attempt,
			&i.ExecutionDate,
			&i.Status,
			&i.RecordsProcessed,
			&i.ErrorKind,
			&i.ErrorMessage,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
