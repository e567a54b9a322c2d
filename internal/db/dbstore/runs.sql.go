// Queries from internal/db/queries/runs.sql.

package dbstore

import (
	"context"
	"database/sql"
)

const countRuns = `-- name: CountRuns :one
SELECT COUNT(*) FROM etl_runs
WHERE (CAST(? AS TEXT) = '' OR status = ?)
`

type CountRunsParams struct {
	Column1 string
	Status  string
}

func (q *Queries) CountRuns(ctx context.Context, arg CountRunsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRuns, arg.Column1, arg.Status)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createRun = `-- name: CreateRun :one
INSERT INTO etl_runs (run_id, input_file_reference, requested_by, requested_at, status, attempt)
VALUES (?, ?, ?, ?, ?, 1)
RETURNING run_id, input_file_reference, file_digest, requested_by, requested_at, status, attempt, started_at, ended_at, error_message, report, created_at
`

type CreateRunParams struct {
	RunID              string
	InputFileReference string
	RequestedBy        string
	RequestedAt        string
	Status             string
}

func (q *Queries) CreateRun(ctx context.Context, arg CreateRunParams) (EtlRun, error) {
	row := q.db.QueryRowContext(ctx, createRun,
		arg.RunID,
		arg.InputFileReference,
		arg.RequestedBy,
		arg.RequestedAt,
		arg.Status,
	)
	return scanEtlRun(row)
}

const deleteSheetResultsByRun = `-- name: DeleteSheetResultsByRun :exec
DELETE FROM etl_sheet_results WHERE run_id = ?
`

func (q *Queries) DeleteSheetResultsByRun(ctx context.Context, runID string) error {
	_, err := q.db.ExecContext(ctx, deleteSheetResultsByRun, runID)
	return err
}

const finishRun = `-- name: FinishRun :exec
UPDATE etl_runs
SET status = ?, error_message = ?, report = ?, ended_at = ?
WHERE run_id = ?
`

type FinishRunParams struct {
	Status       string
	ErrorMessage sql.NullString
	Report       sql.NullString
	EndedAt      sql.NullString
	RunID        string
}

func (q *Queries) FinishRun(ctx context.Context, arg FinishRunParams) error {
	_, err := q.db.ExecContext(ctx, finishRun,
		arg.Status,
		arg.ErrorMessage,
		arg.Report,
		arg.EndedAt,
		arg.RunID,
	)
	return err
}

const getRun = `-- name: GetRun :one
SELECT run_id, input_file_reference, file_digest, requested_by, requested_at, status, attempt, started_at, ended_at, error_message, report, created_at FROM etl_runs WHERE run_id = ?
`

func (q *Queries) GetRun(ctx context.Context, runID string) (EtlRun, error) {
	row := q.db.QueryRowContext(ctx, getRun, runID)
	return scanEtlRun(row)
}

const listRuns = `-- name: ListRuns :many
SELECT run_id, input_file_reference, file_digest, requested_by, requested_at, status, attempt, started_at, ended_at, error_message, report, created_at FROM etl_runs
WHERE (CAST(? AS TEXT) = '' OR status = ?)
ORDER BY created_at DESC, run_id DESC
LIMIT ? OFFSET ?
`

type ListRunsParams struct {
	Column1 string
	Status  string
	Limit   int64
	Offset  int64
}

func (q *Queries) ListRuns(ctx context.Context, arg ListRunsParams) ([]EtlRun, error) {
	rows, err := q.db.QueryContext(ctx, listRuns,
		arg.Column1,
		arg.Status,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return scanEtlRunRows(rows)
}

const listSheetResultsByRun = `-- name: ListSheetResultsByRun :many
SELECT run_id, sheet_name, status, records_processed, rejected_count, zero_amount_count, empty_category_count, error_kind, error_message, warnings, updated_at FROM etl_sheet_results WHERE run_id = ? ORDER BY sheet_name
`

func (q *Queries) ListSheetResultsByRun(ctx context.Context, runID string) ([]EtlSheetResult, error) {
	rows, err := q.db.QueryContext(ctx, listSheetResultsByRun, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EtlSheetResult
	for rows.Next() {
		var i EtlSheetResult
		if err := rows.Scan(
			&i.RunID,
			&i.SheetName,
			&i.Status,
			&i.RecordsProcessed,
			&i.RejectedCount,
			&i.ZeroAmountCount,
			&i.EmptyCategoryCount,
			&i.ErrorKind,
			&i.ErrorMessage,
			&i.Warnings,
			&i.UpdatedAt,
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

const listUnfinishedRuns = `-- name: ListUnfinishedRuns :many
SELECT run_id, input_file_reference, file_digest, requested_by, requested_at, status, attempt, started_at, ended_at, error_message, report, created_at FROM etl_runs
WHERE status NOT IN ('SUCCEEDED', 'PARTIAL', 'FAILED', 'CANCELLED')
ORDER BY created_at
`

func (q *Queries) ListUnfinishedRuns(ctx context.Context) ([]EtlRun, error) {
	rows, err := q.db.QueryContext(ctx, listUnfinishedRuns)
	if err != nil {
		return nil, err
	}
	return scanEtlRunRows(rows)
}

const markRunStarted = `-- name: MarkRunStarted :exec
UPDATE etl_runs SET started_at = ? WHERE run_id = ?
`

type MarkRunStartedParams struct {
	StartedAt sql.NullString
	RunID     string
}

func (q *Queries) MarkRunStarted(ctx context.Context, arg MarkRunStartedParams) error {
	_, err := q.db.ExecContext(ctx, markRunStarted, arg.StartedAt, arg.RunID)
	return err
}

const restartRun = `-- name: RestartRun :one
UPDATE etl_runs
SET attempt = attempt + 1,
    status = 'PENDING',
    requested_by = ?,
    requested_at = ?,
    started_at = NULL,
    ended_at = NULL,
    error_message = NULL,
    report = NULL
WHERE run_id = ? AND status = 'FAILED'
RETURNING run_id, input_file_reference, file_digest, requested_by, requested_at, status, attempt, started_at, ended_at, error_message, report, created_at
`

type RestartRunParams struct {
	RequestedBy string
	RequestedAt string
	RunID       string
}

func (q *Queries) RestartRun(ctx context.Context, arg RestartRunParams) (EtlRun, error) {
	row := q.db.QueryRowContext(ctx, restartRun, arg.RequestedBy, arg.RequestedAt, arg.RunID)
	return scanEtlRun(row)
}

const setRunFileDigest = `-- name: SetRunFileDigest :exec
UPDATE etl_runs SET file_digest = ? WHERE run_id = ?
`

type SetRunFileDigestParams struct {
	FileDigest sql.NullString
	RunID      string
}

func (q *Queries) SetRunFileDigest(ctx context.Context, arg SetRunFileDigestParams) error {
	_, err := q.db.ExecContext(ctx, setRunFileDigest, arg.FileDigest, arg.RunID)
	return err
}

const updateRunStatus = `-- name: UpdateRunStatus :exec
UPDATE etl_runs SET status = ? WHERE run_id = ?
`

type UpdateRunStatusParams struct {
	Status string
	RunID  string
}

func (q *Queries) UpdateRunStatus(ctx context.Context, arg UpdateRunStatusParams) error {
	_, err := q.db.ExecContext(ctx, updateRunStatus, arg.Status, arg.RunID)
	return err
}

const upsertSheetResult = `-- name: UpsertSheetResult :exec
INSERT INTO etl_sheet_results (
    run_id, sheet_name, status, records_processed, rejected_count,
    zero_amount_count, empty_category_count, error_kind, error_message, warnings, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, sheet_name) DO UPDATE SET
    status               = excluded.status,
    records_processed    = excluded.records_processed,
    rejected_count       = excluded.rejected_count,
    zero_amount_count    = excluded.zero_amount_count,
    empty_category_count = excluded.empty_category_count,
    error_kind           = excluded.error_kind,
    error_message        = excluded.error_message,
    warnings             = excluded.warnings,
    updated_at           = excluded.updated_at
`

type UpsertSheetResultParams struct {
	RunID              string
	SheetName          string
	Status             string
	RecordsProcessed   int64
	RejectedCount      int64
	ZeroAmountCount    int64
	EmptyCategoryCount int64
	ErrorKind          sql.NullString
	ErrorMessage       sql.NullString
	Warnings           string
	UpdatedAt          string
}

func (q *Queries) UpsertSheetResult(ctx context.Context, arg UpsertSheetResultParams) error {
	_, err := q.db.ExecContext(ctx, upsertSheetResult,
		arg.RunID,
		arg.SheetName,
		arg.Status,
		arg.RecordsProcessed,
		arg.RejectedCount,
		arg.ZeroAmountCount,
		arg.EmptyCategoryCount,
		arg.ErrorKind,
		arg.ErrorMessage,
		arg.Warnings,
		arg.UpdatedAt,
	)
	return err
}

func scanEtlRun(row *sql.Row) (EtlRun, error) {
	var i EtlRun
	err := row.Scan(
		&i.RunID,
		&i.InputFileReference,
		&i.FileDigest,
		&i.RequestedBy,
		&i.RequestedAt,
		&i.Status,
		&i.Attempt,
		&i.StartedAt,
		&i.EndedAt,
		&i.ErrorMessage,
		&i.Report,
		&i.CreatedAt,
	)
	return i, err
}

func scanEtlRunRows(rows *sql.Rows) ([]EtlRun, error) {
	defer rows.Close()
	var items []EtlRun
	for rows.Next() {
		var i EtlRun
		if err := rows.Scan(
			&i.RunID,
			&i.InputFileReference,
			&i.FileDigest,
			&i.RequestedBy,
			&i.RequestedAt,
			&i.Status,
			&i.Attempt,
			&i.StartedAt,
			&i.EndedAt,
			&i.ErrorMessage,
			&i.Report,
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
