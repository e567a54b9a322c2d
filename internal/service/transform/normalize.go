package transform

import (
	"fmt"
	"strings"
	"time"

	"budget-etl/internal/domain"
	"budget-etl/internal/service/extract"
)

// SheetOptions carries the run- and sheet-level inputs to normalization.
type SheetOptions struct {
	RunID        string
	FileIdentity string // content digest of the input file
	SourceFile   string
	ProcessedAt  time.Time

	AllowNegative      bool
	RuleFiscalYear     int // 0 when the sheet rule sets none
	FutureTolerance    int
	RejectionThreshold float64
}

// Rejection is one row that could not be normalized.
type Rejection struct {
	Row     int
	Kind    domain.ErrorKind
	Message string
}

// SheetOutcome is the result of normalizing one sheet.
type SheetOutcome struct {
	Sheet         string
	Records       []domain.BudgetRecord
	Rejections    []Rejection
	RowsRead      int
	ZeroAmount    int
	EmptyCategory int
}

// RejectionRate is rejected rows over rows read.
func (o *SheetOutcome) RejectionRate() float64 {
	if o.RowsRead == 0 {
		return 0
	}
	return float64(len(o.Rejections)) / float64(o.RowsRead)
}

// NormalizeSheet converts every data row of sheet into a BudgetRecord or a
// Rejection. The outcome is always returned; the error is EmptySheet when
// the sheet has no data rows and ExcessiveRejectionRate when the rejection
// rate exceeds the threshold.
func NormalizeSheet(sheet *extract.RawSheet, m *Mapping, opts SheetOptions) (*SheetOutcome, error) {
	out := &SheetOutcome{Sheet: sheet.Name, Records: make([]domain.BudgetRecord, 0, len(sheet.Rows))}
	n := &rowNormalizer{
		sheet:       sheet.Name,
		mapping:     m,
		opts:        opts,
		labels:      newLabeler(),
		defaultYear: fallbackFiscalYear(sheet.Name, opts),
	}

	for _, row := range sheet.Rows {
		out.RowsRead++
		rec, rej := n.normalize(row)
		if rej != nil {
			out.Rejections = append(out.Rejections, *rej)
			continue
		}
		if rec.BudgetAmount.IsZero() {
			out.ZeroAmount++
		}
		if rec.BudgetCategory == "" {
			out.EmptyCategory++
		}
		out.Records = append(out.Records, rec)
	}

	if out.RowsRead == 0 {
		return out, domain.SheetError(domain.KindEmptySheet, sheet.Name, "no data rows below header row %d", sheet.HeaderRow)
	}
	if rate := out.RejectionRate(); rate > opts.RejectionThreshold {
		return out, domain.SheetError(domain.KindExcessiveRejectionRate, sheet.Name,
			"%d of %d rows rejected (%.1f%% > %.1f%%)%s",
			len(out.Rejections), out.RowsRead, rate*100, opts.RejectionThreshold*100, firstRejection(out.Rejections))
	}
	return out, nil
}

func firstRejection(rs []Rejection) string {
	if len(rs) == 0 {
		return ""
	}
	return fmt.Sprintf("; first: row %d: %s", rs[0].Row, rs[0].Message)
}

// fallbackFiscalYear picks the year used when a row carries none: the
// sheet rule, then a year in the sheet name, then the processing year.
func fallbackFiscalYear(sheet string, opts SheetOptions) int {
	if opts.RuleFiscalYear != 0 {
		return opts.RuleFiscalYear
	}
	if y, ok := YearFromSheetName(sheet); ok {
		return y
	}
	return opts.ProcessedAt.Year()
}

type rowNormalizer struct {
	sheet       string
	mapping     *Mapping
	opts        SheetOptions
	labels      *labeler
	defaultYear int
}

func (n *rowNormalizer) cell(row extract.Row, field string) (string, bool) {
	i, ok := n.mapping.Column(field)
	if !ok {
		return "", false
	}
	return row.Cell(i), true
}

func reject(kind domain.ErrorKind, row extract.Row, format string, args ...any) *Rejection {
	return &Rejection{Row: row.Number, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (n *rowNormalizer) normalize(row extract.Row) (domain.BudgetRecord, *Rejection) {
	item, _ := n.cell(row, domain.FieldBudgetItem)
	item = collapseSpaces(item)
	if item == "" {
		return domain.BudgetRecord{}, reject(domain.KindMissingBudgetItem, row, "budget item is empty")
	}

	rawAmount, _ := n.cell(row, domain.FieldBudgetAmount)
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return domain.BudgetRecord{}, reject(domain.KindUnparseableAmount, row, "%v", err)
	}
	if amount.IsNegative() && !n.opts.AllowNegative {
		return domain.BudgetRecord{}, reject(domain.KindNegativeAmountNotAllowed, row, "amount %s is negative", amount)
	}

	year := n.defaultYear
	if rawYear, ok := n.cell(row, domain.FieldFiscalYear); ok && strings.TrimSpace(rawYear) != "" {
		year, err = ParseFiscalYear(rawYear)
		if err != nil {
			return domain.BudgetRecord{}, reject(domain.KindInvalidFiscalYear, row, "%v", err)
		}
	}
	if err := CheckFiscalYear(year, n.opts.ProcessedAt, n.opts.FutureTolerance); err != nil {
		return domain.BudgetRecord{}, reject(domain.KindInvalidFiscalYear, row, "%v", err)
	}

	rec := domain.BudgetRecord{
		RecordID:      domain.RecordID(n.opts.FileIdentity, n.sheet, row.Number, item),
		SheetSource:   n.sheet,
		FiscalYear:    year,
		BudgetItem:    item,
		BudgetAmount:  amount,
		ProcessedDate: n.opts.ProcessedAt,
		SourceFile:    n.opts.SourceFile,
		RowNumber:     row.Number,
		RunID:         n.opts.RunID,
	}

	category, _ := n.cell(row, domain.FieldBudgetCategory)
	rec.BudgetCategory = n.labels.label(category)

	if dept, ok := n.cell(row, domain.FieldDepartment); ok {
		d := n.labels.label(dept)
		rec.Department = &d
	}
	if desc, ok := n.cell(row, domain.FieldBudgetDescription); ok {
		if d := collapseSpaces(desc); d != "" {
			rec.BudgetDescription = &d
		}
	}
	if code, ok := n.cell(row, domain.FieldAccountCode); ok {
		if code = strings.TrimSpace(code); code != "" {
			rec.AccountCode = &code
		}
	}
	return rec, nil
}
