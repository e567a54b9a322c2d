package dbstore

import (
	"database/sql"
)

type BudgetDatum struct {
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
	CreatedAt         string
	UpdatedAt         string
}

type BudgetSummary struct {
	ID                int64
	SheetName         string
	FiscalYear        int64
	RunID             string
	TotalRecords      int64
	TotalBudgetAmount string
	MaxBudgetItem     string
	MinBudgetItem     string
	AverageBudgetItem string
	ProcessingDate    string
	CreatedAt         string
}

type EtlAudit struct {
	ID               int64
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

type EtlRun struct {
	RunID              string
	InputFileReference string
	FileDigest         sql.NullString
	RequestedBy        string
	RequestedAt        string
	Status             string
	Attempt            int64
	StartedAt          sql.NullString
	EndedAt            sql.NullString
	ErrorMessage       sql.NullString
	Report             sql.NullString
	CreatedAt          string
}

type EtlSheetResult struct {
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
