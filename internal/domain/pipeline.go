package domain

import "time"

// Run status constants. A run walks the stages in order and ends in one of
// the terminal statuses.
const (
	RunStatusPending     = "PENDING"
	RunStatusExtracting  = "EXTRACTING"
	RunStatusMapping     = "MAPPING"
	RunStatusNormalizing = "NORMALIZING"
	RunStatusAggregating = "AGGREGATING"
	RunStatusLoading     = "LOADING"
	RunStatusValidating  = "VALIDATING"
	RunStatusSucceeded   = "SUCCEEDED"
	RunStatusPartial     = "PARTIAL"
	RunStatusFailed      = "FAILED"
	RunStatusCancelled   = "CANCELLED"
)

// Sheet result statuses.
const (
	SheetStatusPending = "PENDING"
	SheetStatusLoaded  = "LOADED"
	SheetStatusSkipped = "SKIPPED"
	SheetStatusFailed  = "FAILED"
)

// IsTerminalRunStatus reports whether a run in this status has finished.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Run is one end-to-end execution of the pipeline against one input file.
type Run struct {
	ID                 string
	InputFileReference string
	FileDigest         *string
	RequestedBy        string
	RequestedAt        time.Time
	Status             string
	Attempt            int
	StartedAt          *time.Time
	EndedAt            *time.Time
	ErrorMessage       *string
	Report             *ValidationReport
	CreatedAt          time.Time
}

// SheetResult is the per-sheet outcome of a run.
type SheetResult struct {
	RunID              string
	SheetName          string
	Status             string
	RecordsProcessed   int
	RejectedCount      int
	ZeroAmountCount    int
	EmptyCategoryCount int
	ErrorKind          *string
	ErrorMessage       *string
	Warnings           []string
}

// RunStatusView is the status-query projection of a run.
type RunStatusView struct {
	Run    Run
	Sheets []SheetResult
}

// TriggerRequest is what an external scheduler supplies to start a run.
type TriggerRequest struct {
	InputFileReference string    `json:"input_file_reference" validate:"required"`
	RunID              string    `json:"run_id,omitempty" validate:"omitempty,max=128,printascii"`
	RequestedBy        string    `json:"requested_by" validate:"required,max=255"`
	Timestamp          time.Time `json:"timestamp"`
}

// TriggerResult is returned synchronously when a run is accepted.
type TriggerResult struct {
	RunID         string `json:"run_id"`
	InitialStatus string `json:"initial_status"`
}

// RunFilter holds filter parameters for listing runs.
type RunFilter struct {
	Status *string
	Page   PageRequest
}

// Validation report statuses, as in the original DAG's validation task.
const (
	ReportStatusSuccess = "SUCCESS"
	ReportStatusWarning = "WARNING"
	ReportStatusError   = "ERROR"
)

// ValidationReport summarizes the checks made after loading.
type ValidationReport struct {
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"etl_start_time"`
	EndedAt          time.Time `json:"etl_end_time"`
	ChecksPerformed  []string  `json:"checks_performed"`
	IssuesFound      []string  `json:"issues_found"`
	RecordsLoaded    int       `json:"records_loaded"`
	SheetsLoaded     int       `json:"sheets_loaded"`
	SheetsSkipped    int       `json:"sheets_skipped"`
	RowsRejected     int       `json:"rows_rejected"`
	ZeroAmountRows   int       `json:"zero_amount_rows"`
	EmptyCategoryRow int       `json:"empty_category_rows"`
}
