package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical budget fields that raw sheet headers are mapped onto.
const (
	FieldFiscalYear        = "fiscal_year"
	FieldBudgetCategory    = "budget_category"
	FieldDepartment        = "department"
	FieldBudgetItem        = "budget_item"
	FieldBudgetDescription = "budget_description"
	FieldBudgetAmount      = "budget_amount"
	FieldAccountCode       = "account_code"
)

// CanonicalFields lists every canonical field in schema order.
var CanonicalFields = []string{
	FieldFiscalYear,
	FieldBudgetCategory,
	FieldDepartment,
	FieldBudgetItem,
	FieldBudgetDescription,
	FieldBudgetAmount,
	FieldAccountCode,
}

// RequiredFields must be present in every sheet header.
var RequiredFields = []string{FieldBudgetItem, FieldBudgetAmount}

// IsCanonicalField reports whether name is a known canonical field.
func IsCanonicalField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// IsRequiredField reports whether name must be mapped for a sheet to load.
func IsRequiredField(name string) bool {
	for _, f := range RequiredFields {
		if f == name {
			return true
		}
	}
	return false
}

// BudgetRecord is one canonical budget line.
type BudgetRecord struct {
	RecordID          string
	SheetSource       string
	FiscalYear        int
	BudgetCategory    string
	Department        *string
	BudgetItem        string
	BudgetDescription *string
	BudgetAmount      decimal.Decimal
	AccountCode       *string
	ProcessedDate     time.Time

	// Provenance.
	SourceFile string
	RowNumber  int
	RunID      string
}

// BudgetSummary aggregates the records of one (sheet, fiscal year, run).
type BudgetSummary struct {
	SheetName         string
	FiscalYear        int
	RunID             string
	TotalRecords      int
	TotalBudgetAmount decimal.Decimal
	MaxBudgetItem     decimal.Decimal
	MinBudgetItem     decimal.Decimal
	AverageBudgetItem decimal.Decimal
	ProcessingDate    time.Time
}

// SheetBatch is everything one sheet contributes to a run's commit.
type SheetBatch struct {
	SheetName string
	Records   []BudgetRecord
	Summaries []BudgetSummary
}

// RecordTotals is the stored count and sum over a set of records, used by
// reconciliation.
type RecordTotals struct {
	Count int
	Sum   decimal.Decimal
}
