package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"budget-etl/internal/db/dbstore"
	"budget-etl/internal/domain"
)

var _ domain.BudgetRepository = (*BudgetRepo)(nil)

// recordLookupChunk bounds the number of bind variables per IN query.
const recordLookupChunk = 500

// BudgetRepo implements BudgetRepository over the budget sink.
type BudgetRepo struct {
	db   *sql.DB
	q    *dbstore.Queries
	read *dbstore.Queries
}

// NewBudgetRepo creates a BudgetRepo. Commits go through the write pool,
// lookups through the read pool.
func NewBudgetRepo(write, read *sql.DB) *BudgetRepo {
	return &BudgetRepo{db: write, q: dbstore.New(write), read: dbstore.New(read)}
}

// CommitBatches writes every batch inside one transaction. Records are
// upserted on record_id; every summary of the run is deleted first, so a
// retried run keeps only the summaries of the sheets it loaded this time.
// Any failure rolls the whole transaction back.
func (r *BudgetRepo) CommitBatches(ctx context.Context, runID string, batches []domain.SheetBatch) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifySinkError(err, "", "begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	qtx := r.q.WithTx(tx)
	now := formatTime(time.Now())
	written := 0

	if err := qtx.DeleteRunSummaries(ctx, runID); err != nil {
		return 0, classifySinkError(err, "", "replace summaries")
	}

	for _, b := range batches {
		for i := range b.Records {
			rec := &b.Records[i]
			if err := qtx.UpsertBudgetRecord(ctx, budgetRecordToParams(rec, runID, now)); err != nil {
				return 0, classifySinkError(err, b.SheetName, fmt.Sprintf("upsert row %d", rec.RowNumber))
			}
			written++
		}

		for _, s := range b.Summaries {
			if err := qtx.InsertBudgetSummary(ctx, dbstore.InsertBudgetSummaryParams{
				SheetName:         s.SheetName,
				FiscalYear:        int64(s.FiscalYear),
				RunID:             runID,
				TotalRecords:      int64(s.TotalRecords),
				TotalBudgetAmount: s.TotalBudgetAmount.String(),
				MaxBudgetItem:     s.MaxBudgetItem.String(),
				MinBudgetItem:     s.MinBudgetItem.String(),
				AverageBudgetItem: s.AverageBudgetItem.String(),
				ProcessingDate:    formatDate(s.ProcessingDate),
			}); err != nil {
				return 0, classifySinkError(err, b.SheetName, fmt.Sprintf("insert summary for fiscal year %d", s.FiscalYear))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classifySinkError(err, "", "commit")
	}
	return written, nil
}

// GetRecordsByID returns the stored records for the given ids. Ids with no
// stored record are omitted.
func (r *BudgetRepo) GetRecordsByID(ctx context.Context, recordIDs []string) ([]domain.BudgetRecord, error) {
	out := make([]domain.BudgetRecord, 0, len(recordIDs))
	for start := 0; start < len(recordIDs); start += recordLookupChunk {
		end := min(start+recordLookupChunk, len(recordIDs))
		rows, err := r.read.ListBudgetRecordsByIDs(ctx, recordIDs[start:end])
		if err != nil {
			return nil, classifySinkError(err, "", "read back records")
		}
		for _, row := range rows {
			rec, err := budgetRecordFromDB(row)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListSummariesByRun returns the summaries written by a run.
func (r *BudgetRepo) ListSummariesByRun(ctx context.Context, runID string) ([]domain.BudgetSummary, error) {
	rows, err := r.read.ListSummariesByRun(ctx, runID)
	if err != nil {
		return nil, classifySinkError(err, "", "list summaries")
	}
	out := make([]domain.BudgetSummary, 0, len(rows))
	for _, row := range rows {
		s, err := budgetSummaryFromDB(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func budgetRecordToParams(rec *domain.BudgetRecord, runID, now string) dbstore.UpsertBudgetRecordParams {
	return dbstore.UpsertBudgetRecordParams{
		RecordID:          rec.RecordID,
		SheetSource:       rec.SheetSource,
		FiscalYear:        int64(rec.FiscalYear),
		BudgetCategory:    rec.BudgetCategory,
		Department:        nullStrFromPtr(rec.Department),
		BudgetItem:        rec.BudgetItem,
		BudgetDescription: nullStrFromPtr(rec.BudgetDescription),
		BudgetAmount:      rec.BudgetAmount.String(),
		AccountCode:       nullStrFromPtr(rec.AccountCode),
		ProcessedDate:     formatDate(rec.ProcessedDate),
		SourceFile:        rec.SourceFile,
		SourceRow:         int64(rec.RowNumber),
		LastRunID:         runID,
		UpdatedAt:         now,
	}
}

func budgetRecordFromDB(row dbstore.BudgetDatum) (domain.BudgetRecord, error) {
	amount, err := decimal.NewFromString(row.BudgetAmount)
	if err != nil {
		return domain.BudgetRecord{}, fmt.Errorf("record %s: parse stored amount %q: %w", row.RecordID, row.BudgetAmount, err)
	}
	return domain.BudgetRecord{
		RecordID:          row.RecordID,
		SheetSource:       row.SheetSource,
		FiscalYear:        int(row.FiscalYear),
		BudgetCategory:    row.BudgetCategory,
		Department:        ptrFromNullStr(row.Department),
		BudgetItem:        row.BudgetItem,
		BudgetDescription: ptrFromNullStr(row.BudgetDescription),
		BudgetAmount:      amount,
		AccountCode:       ptrFromNullStr(row.AccountCode),
		ProcessedDate:     parseTime(row.ProcessedDate),
		SourceFile:        row.SourceFile,
		RowNumber:         int(row.SourceRow),
		RunID:             row.LastRunID,
	}, nil
}

func budgetSummaryFromDB(row dbstore.BudgetSummary) (domain.BudgetSummary, error) {
	vals := make([]decimal.Decimal, 4)
	for i, raw := range []string{row.TotalBudgetAmount, row.MaxBudgetItem, row.MinBudgetItem, row.AverageBudgetItem} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.BudgetSummary{}, fmt.Errorf("summary %s/%d: parse stored amount %q: %w", row.SheetName, row.FiscalYear, raw, err)
		}
		vals[i] = d
	}
	return domain.BudgetSummary{
		SheetName:         row.SheetName,
		FiscalYear:        int(row.FiscalYear),
		RunID:             row.RunID,
		TotalRecords:      int(row.TotalRecords),
		TotalBudgetAmount: vals[0],
		MaxBudgetItem:     vals[1],
		MinBudgetItem:     vals[2],
		AverageBudgetItem: vals[3],
		ProcessingDate:    parseTime(row.ProcessingDate),
	}, nil
}
