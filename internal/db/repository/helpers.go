// Package repository implements domain repository interfaces using SQLite.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"budget-etl/internal/domain"
)

// timeLayout is how timestamps are stored in TEXT columns; dateLayout is
// used for processed_date and processing_date.
const (
	timeLayout = time.RFC3339Nano
	dateLayout = time.DateOnly
)

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}

// classifySinkError turns a driver error raised while committing budget data
// into a PipelineError. Lock contention and I/O failures are retryable
// SinkUnavailable; constraint failures are ConstraintViolation.
func classifySinkError(err error, sheet, op string) error {
	if err == nil {
		return nil
	}
	kind := domain.KindSinkUnavailable
	retryable := false

	var se sqlite3.Error
	switch {
	case errors.As(err, &se):
		switch se.Code {
		case sqlite3.ErrConstraint:
			kind = domain.KindConstraintViolation
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrFull:
			retryable = true
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		retryable = true
	}

	pe := domain.WrapPipelineError(kind, retryable, err, "%s", op)
	pe.Sheet = sheet
	return pe
}

func nullStrFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime accepts the RFC 3339 form written by the repositories, the
// strftime default used by column DEFAULTs, and plain dates.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
