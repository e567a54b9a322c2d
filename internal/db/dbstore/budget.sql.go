// Queries from internal/db/queries/budget.sql.

package dbstore

import (
	"context"
	"database/sql"
	"strings"
)

const deleteRunSummaries = `-- name: DeleteRunSummaries :exec
DELETE FROM budget_summary WHERE run_id = ?
`

func (q *Queries) DeleteRunSummaries(ctx context.Context, runID string) error {
	_, err := q.db.ExecContext(ctx, deleteRunSummaries, runID)
	return err
}

const insertBudgetSummary = `-- name: InsertBudgetSummary :exec
INSERT INTO budget_summary (
    sheet_name, fiscal_year, run_id, total_records, total_budget_amount,
    max_budget_item, min_budget_item, average_budget_item, processing_date
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertBudgetSummaryParams struct {
	SheetName         string
	FiscalYear        int64
	RunID             string
	TotalRecords      int64
	TotalBudgetAmount string
	MaxBudgetItem     string
	MinBudgetItem     string
	AverageBudgetItem string
	ProcessingDate    string
}

func (q *Queries) InsertBudgetSummary(ctx context.Context, arg InsertBudgetSummaryParams) error {
	_, err := q.db.ExecContext(ctx, insertBudgetSummary,
		arg.SheetName,
		arg.FiscalYear,
		arg.RunID,
		arg.TotalRecords,
		arg.TotalBudgetAmount,
		arg.MaxBudgetItem,
		arg.MinBudgetItem,
		arg.AverageBudgetItem,
		arg.ProcessingDate,
	)
	return err
}

const listBudgetRecordsByIDs = `-- name: ListBudgetRecordsByIDs :many
SELECT record_id, sheet_source, fiscal_year, budget_category, department,
       budget_item, budget_description, budget_amount, account_code,
       processed_date, source_file, source_row, last_run_id, created_at, updated_at
FROM budget_data
WHERE record_id IN (/*SLICE:record_ids*/?)
ORDER BY sheet_source, source_row
`

func (q *Queries) ListBudgetRecordsByIDs(ctx context.Context, recordIds []string) ([]BudgetDatum, error) {
	query := listBudgetRecordsByIDs
	var queryParams []interface{}
	if len(recordIds) > 0 {
		for _, v := range recordIds {
			queryParams = append(queryParams, v)
		}
		query = strings.Replace(query, "/*SLICE:record_ids*/?", strings.Repeat(",?", len(recordIds))[1:], 1)
	} else {
		query = strings.Replace(query, "/*SLICE:record_ids*/?", "NULL", 1)
	}
	rows, err := q.db.QueryContext(ctx, query, queryParams...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetDatum
	for rows.Next() {
		var i BudgetDatum
		if err := rows.Scan(
			&i.RecordID,
			&i.SheetSource,
			&i.FiscalYear,
			&i.BudgetCategory,
			&i.Department,
			&i.BudgetItem,
			&i.BudgetDescription,
			&i.BudgetAmount,
			&i.AccountCode,
			&i.ProcessedDate,
			&i.SourceFile,
			&i.SourceRow,
			&i.LastRunID,
			&i.CreatedAt,
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

const listSummariesByRun = `-- name: ListSummariesByRun :many
SELECT id, sheet_name, fiscal_year, run_id, total_records, total_budget_amount,
       max_budget_item, min_budget_item, average_budget_item, processing_date, created_at
FROM budget_summary
WHERE run_id = ?
ORDER BY sheet_name, fiscal_year
`

func (q *Queries) ListSummariesByRun(ctx context.Context, runID string) ([]BudgetSummary, error) {
	rows, err := q.db.QueryContext(ctx, listSummariesByRun, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BudgetSummary
	for rows.Next() {
		var i BudgetSummary
		if err := rows.Scan(
			&i.ID,
			&i.SheetName,
			&i.FiscalYear,
			&i.RunID,
			&i.TotalRecords,
			&i.TotalBudgetAmount,
			&i.MaxBudgetItem,
			&i.MinBudgetItem,
			&i.AverageBudgetItem,
			&i.ProcessingDate,
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

const upsertBudgetRecord = `-- name: UpsertBudgetRecord :exec
INSERT INTO budget_data (
    record_id, sheet_source, fiscal_year, budget_category, department,
    budget_item, budget_description, budget_amount, account_code,
    processed_date, source_file, source_row, last_run_id, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (record_id) DO UPDATE SET
    sheet_source       = excluded.sheet_source,
    fiscal_year        = excluded.fiscal_year,
    budget_category    = excluded.budget_category,
    department         = excluded.department,
    budget_item        = excluded.budget_item,
    budget_description = excluded.budget_description,
    budget_amount      = excluded.budget_amount,
    account_code       = excluded.account_code,
    processed_date     = excluded.processed_date,
    source_file        = excluded.source_file,
    source_row         = excluded.source_row,
    last_run_id        = excluded.last_run_id,
    updated_at         = excluded.updated_at
`

type UpsertBudgetRecordParams struct {
	RecordID          string
	SheetSource       string
	FiscalYear        int64
	BudgetCategory    string
	Department        sql.NullString
	BudgetItem        string
	BudgetDescription sql.NullString
	BudgetAmount      string
	AccountCode       sql.NullString
	ProcessedDate     string
	SourceFile        string
	SourceRow         int64
	LastRunID         string
	UpdatedAt         string
}

func (q *Queries) UpsertBudgetRecord(ctx context.Context, arg UpsertBudgetRecordParams) error {
	_, err := q.db.ExecContext(ctx, upsertBudgetRecord,
		arg.RecordID,
		arg.SheetSource,
		arg.FiscalYear,
		arg.BudgetCategory,
		arg.Department,
		arg.BudgetItem,
		arg.BudgetDescription,
		arg.BudgetAmount,
		arg.AccountCode,
		arg.ProcessedDate,
		arg.SourceFile,
		arg.SourceRow,
		arg.LastRunID,
		arg.UpdatedAt,
	)
	return err
}
