// Package extract opens budget workbooks and yields their sheets as header
// plus ordered data rows.
package extract

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"budget-etl/internal/domain"
)

// Workbook formats recognized by extension.
var (
	spreadsheetExts = map[string]bool{".xlsx": true, ".xlsm": true, ".xltx": true, ".xltm": true}
	csvExt          = ".csv"
)

// ctxCheckInterval is how many rows are read between cancellation checks.
const ctxCheckInterval = 1024

// Row is one non-blank data row. Number is the 1-based spreadsheet row.
type Row struct {
	Number int
	Cells  []string
}

// Cell returns the trimmed value at position i, or "" past the row's end.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[i])
}

// IsBlank reports whether every cell is empty after trimming.
func (r Row) IsBlank() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// rowSource yields raw rows in file order, blank ones included.
type rowSource interface {
	next() (Row, bool, error)
	close() error
}

// Workbook is an opened input file. It is not safe for concurrent use.
type Workbook struct {
	path   string
	sheets []string
	xlsx   *excelize.File
}

// Open opens the workbook at path. Spreadsheet formats are read with
// excelize; a .csv file is treated as a workbook with one sheet named after
// the file stem.
func Open(path string) (*Workbook, error) {
	return openNamed(path, filepath.Base(path))
}

// OpenInput opens a fetched input. Names come from the input's reference,
// not from the local path, so a downloaded .csv keeps the sheet name of
// the original object.
func OpenInput(in *Input) (*Workbook, error) {
	name := in.Name
	if name == "" {
		name = filepath.Base(in.Path)
	}
	return openNamed(in.Path, name)
}

func openNamed(path, name string) (*Workbook, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(path))
	}
	switch {
	case spreadsheetExts[ext]:
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, unreadable(err, "open %s", name)
		}
		names := f.GetSheetList()
		if len(names) == 0 {
			_ = f.Close()
			return nil, domain.NewPipelineError(domain.KindEmptyWorkbook, "%s contains no sheets", name)
		}
		return &Workbook{path: path, sheets: names, xlsx: f}, nil

	case ext == csvExt:
		info, err := os.Stat(path)
		if err != nil {
			return nil, unreadable(err, "open %s", name)
		}
		if info.IsDir() {
			return nil, domain.NewPipelineError(domain.KindSourceUnreadable, "%s is a directory", path)
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		return &Workbook{path: path, sheets: []string{stem}}, nil

	default:
		return nil, domain.NewPipelineError(domain.KindSourceUnreadable,
			"%s: unsupported file type %q (want .xlsx, .xlsm, .xltx, .xltm or .csv)", name, ext)
	}
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	return append([]string(nil), w.sheets...)
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	if w.xlsx != nil {
		return w.xlsx.Close()
	}
	return nil
}

// OpenSheet positions a reader on the first data row of the named sheet.
// Leading blank rows are skipped; the first non-blank row is the header.
// A sheet with no header fails with EmptySheet.
func (w *Workbook) OpenSheet(name string) (*Sheet, error) {
	src, err := w.rowSource(name)
	if err != nil {
		return nil, err
	}

	for {
		row, ok, err := src.next()
		if err != nil {
			_ = src.close()
			return nil, sheetUnreadable(name, err)
		}
		if !ok {
			_ = src.close()
			return nil, domain.SheetError(domain.KindEmptySheet, name, "no header row")
		}
		if row.IsBlank() {
			continue
		}
		header := make([]string, len(row.Cells))
		for i := range row.Cells {
			header[i] = row.Cell(i)
		}
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}
		return &Sheet{Name: name, Header: header, HeaderRow: row.Number, src: src}, nil
	}
}

func (w *Workbook) rowSource(name string) (rowSource, error) {
	if w.xlsx != nil {
		rows, err := w.xlsx.Rows(name)
		if err != nil {
			return nil, sheetUnreadable(name, err)
		}
		return &xlsxRows{rows: rows}, nil
	}

	if len(w.sheets) == 0 || name != w.sheets[0] {
		return nil, domain.SheetError(domain.KindSourceUnreadable, name, "no such sheet")
	}
	f, err := os.Open(w.path)
	if err != nil {
		return nil, unreadable(err, "open %s", filepath.Base(w.path))
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return &csvRows{f: f, r: r}, nil
}

// Sheet iterates the data rows of one sheet. Fully blank rows are skipped.
type Sheet struct {
	Name      string
	Header    []string
	HeaderRow int

	src rowSource
	cur Row
	err error
}

// Next advances to the next non-blank row.
func (s *Sheet) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		row, ok, err := s.src.next()
		if err != nil {
			s.err = sheetUnreadable(s.Name, err)
			return false
		}
		if !ok {
			return false
		}
		if row.IsBlank() {
			continue
		}
		s.cur = row
		return true
	}
}

// Row returns the current row.
func (s *Sheet) Row() Row { return s.cur }

// Err returns the first error met while iterating.
func (s *Sheet) Err() error { return s.err }

// Close releases the sheet's reader.
func (s *Sheet) Close() error { return s.src.close() }

// RawSheet is a fully read sheet.
type RawSheet struct {
	Name      string
	Header    []string
	HeaderRow int
	Rows      []Row
}

// ReadSheet reads every data row of the named sheet, checking ctx
// periodically.
func (w *Workbook) ReadSheet(ctx context.Context, name string) (*RawSheet, error) {
	sheet, err := w.OpenSheet(name)
	if err != nil {
		return nil, err
	}
	defer sheet.Close() //nolint:errcheck

	out := &RawSheet{Name: sheet.Name, Header: sheet.Header, HeaderRow: sheet.HeaderRow}
	for sheet.Next() {
		out.Rows = append(out.Rows, sheet.Row())
		if len(out.Rows)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := sheet.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type xlsxRows struct {
	rows *excelize.Rows
	n    int
}

func (x *xlsxRows) next() (Row, bool, error) {
	if !x.rows.Next() {
		return Row{}, false, x.rows.Error()
	}
	x.n++
	cells, err := x.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return Row{}, false, err
	}
	return Row{Number: x.n, Cells: cells}, true, nil
}

func (x *xlsxRows) close() error { return x.rows.Close() }

type csvRows struct {
	f *os.File
	r *csv.Reader
}

func (c *csvRows) next() (Row, bool, error) {
	rec, err := c.r.Read()
	if errors.Is(err, io.EOF) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	line, _ := c.r.FieldPos(0)
	return Row{Number: line, Cells: rec}, true, nil
}

func (c *csvRows) close() error { return c.f.Close() }

// unreadable classifies a file-level failure. Missing files, permission
// problems and malformed archives are permanent; other I/O errors may be
// transient and are marked retryable.
func unreadable(err error, format string, args ...any) error {
	retryable := false
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission), errors.Is(err, zip.ErrFormat):
	case errors.As(err, &pathErr):
		retryable = true
	}
	return domain.WrapPipelineError(domain.KindSourceUnreadable, retryable, err, format, args...)
}

func sheetUnreadable(sheet string, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	e := domain.WrapPipelineError(domain.KindSourceUnreadable, false, err, "read rows")
	e.Sheet = sheet
	return e
}

// String identifies the workbook in logs.
func (w *Workbook) String() string {
	return fmt.Sprintf("%s (%d sheets)", filepath.Base(w.path), len(w.sheets))
}
