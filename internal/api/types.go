package api

import (
	"time"

	"budget-etl/internal/domain"
)

// Error is the body of every non-2xx response.
type Error struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// TriggerRunRequest is the body of POST /v1/runs.
type TriggerRunRequest struct {
	InputFileReference string     `json:"input_file_reference"`
	RunID              string     `json:"run_id,omitempty"`
	RequestedBy        string     `json:"requested_by"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
}

// TriggerRunResponse is the 202 body of POST /v1/runs.
type TriggerRunResponse struct {
	RunID         string `json:"run_id"`
	InitialStatus string `json:"initial_status"`
}

// CancelRunRequest is the optional body of POST /v1/runs/{run_id}/cancel.
type CancelRunRequest struct {
	RequestedBy string `json:"requested_by"`
}

// CancelRunResponse is the 202 body of POST /v1/runs/{run_id}/cancel.
type CancelRunResponse struct {
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Run is the status view of a run. PerSheetResults is always present, empty
// for runs that have not yet extracted any sheet.
type Run struct {
	RunID              string                   `json:"run_id"`
	Status             string                   `json:"status"`
	Attempt            int                      `json:"attempt"`
	InputFileReference string                   `json:"input_file_reference"`
	FileDigest         *string                  `json:"file_digest,omitempty"`
	RequestedBy        string                   `json:"requested_by"`
	RequestedAt        time.Time                `json:"requested_at"`
	StartedAt          *time.Time               `json:"started_at"`
	EndedAt            *time.Time               `json:"ended_at"`
	ErrorMessage       *string                  `json:"error_message,omitempty"`
	Report             *domain.ValidationReport `json:"validation_report,omitempty"`
	PerSheetResults    []SheetResult            `json:"per_sheet_results"`
}

// SheetResult is one sheet's outcome within a run.
type SheetResult struct {
	SheetName          string   `json:"sheet_name"`
	Status             string   `json:"status"`
	RecordsProcessed   int      `json:"records_processed"`
	RejectedCount      int      `json:"rejected_count"`
	ZeroAmountCount    int      `json:"zero_amount_count"`
	EmptyCategoryCount int      `json:"empty_category_count"`
	ErrorKind          *string  `json:"error_kind,omitempty"`
	ErrorMessage       *string  `json:"error_message,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// PaginatedRuns is a page of runs.
type PaginatedRuns struct {
	Data          []Run   `json:"data"`
	NextPageToken *string `json:"next_page_token,omitempty"`
}

// AuditEntry is one audit row.
type AuditEntry struct {
	RunID            string    `json:"run_id"`
	RunAttempt       int       `json:"run_attempt"`
	TaskID           string    `json:"task_id"`
	SheetName        string    `json:"sheet_name,omitempty"`
	Attempt          int       `json:"attempt"`
	ExecutionDate    time.Time `json:"execution_date"`
	Status           string    `json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	ErrorKind        *string   `json:"error_kind,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditEntries wraps a run's audit trail.
type AuditEntries struct {
	Data []AuditEntry `json:"data"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Sink   string `json:"sink"`
}
