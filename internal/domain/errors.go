// Package domain defines core types, interfaces, and errors for the budget ETL pipeline.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., a run_id that is already in flight).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind names one class of pipeline failure.
type ErrorKind string

// Pipeline error kinds.
const (
	KindSourceUnreadable         ErrorKind = "SourceUnreadable"
	KindEmptyWorkbook            ErrorKind = "EmptyWorkbook"
	KindRequiredColumnMissing    ErrorKind = "RequiredColumnMissing"
	KindAmbiguousColumnMapping   ErrorKind = "AmbiguousColumnMapping"
	KindEmptySheet               ErrorKind = "EmptySheet"
	KindUnparseableAmount        ErrorKind = "UnparseableAmount"
	KindInvalidFiscalYear        ErrorKind = "InvalidFiscalYear"
	KindMissingBudgetItem        ErrorKind = "MissingBudgetItem"
	KindNegativeAmountNotAllowed ErrorKind = "NegativeAmountNotAllowed"
	KindExcessiveRejectionRate   ErrorKind = "ExcessiveRejectionRate"
	KindNoSheetsSurvived         ErrorKind = "NoSheetsSurvived"
	KindSinkUnavailable          ErrorKind = "SinkUnavailable"
	KindConstraintViolation      ErrorKind = "ConstraintViolation"
	KindReconciliationMismatch   ErrorKind = "ReconciliationMismatch"
	KindCancelled                ErrorKind = "Cancelled"
	KindInterrupted              ErrorKind = "Interrupted"
)

// ErrorScope is the blast radius of a failure.
type ErrorScope string

// Error scopes.
const (
	ScopeRun   ErrorScope = "run"
	ScopeSheet ErrorScope = "sheet"
	ScopeRow   ErrorScope = "row"
)

// Scope reports how far a failure of this kind propagates.
func (k ErrorKind) Scope() ErrorScope {
	switch k {
	case KindRequiredColumnMissing, KindAmbiguousColumnMapping, KindEmptySheet,
		KindExcessiveRejectionRate:
		return ScopeSheet
	case KindUnparseableAmount, KindInvalidFiscalYear, KindMissingBudgetItem,
		KindNegativeAmountNotAllowed:
		return ScopeRow
	default:
		return ScopeRun
	}
}

// PipelineError is a classified pipeline failure. Retryable marks transient
// failures (I/O hiccups, sink connectivity) that a stage may retry.
type PipelineError struct {
	Kind      ErrorKind
	Sheet     string
	Message   string
	Retryable bool
	Err       error
}

func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Sheet != "" {
		msg += fmt.Sprintf(": sheet %q", e.Sheet)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches another *PipelineError by kind, so errors.Is(err,
// &PipelineError{Kind: KindSinkUnavailable}) works through wrapping.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewPipelineError creates a non-retryable PipelineError.
func NewPipelineError(kind ErrorKind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SheetError creates a PipelineError bound to a sheet.
func SheetError(kind ErrorKind, sheet string, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Sheet: sheet, Message: fmt.Sprintf(format, args...)}
}

// WrapPipelineError wraps err into a PipelineError of the given kind.
func WrapPipelineError(kind ErrorKind, retryable bool, err error, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable, Err: err}
}

// KindOf extracts the ErrorKind of err, or "" if err is not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err is a PipelineError marked retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
