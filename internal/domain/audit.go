package domain

import "time"

// Audit task identifiers, one per pipeline stage.
const (
	TaskExtract   = "extract"
	TaskTransform = "transform"
	TaskLoad      = "load"
	TaskValidate  = "validate"
)

// Audit entry statuses.
const (
	AuditStatusStarted = "started"
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusSkipped = "skipped"
)

// IsTerminalAuditStatus reports whether status closes a (run, task) pair.
func IsTerminalAuditStatus(status string) bool {
	switch status {
	case AuditStatusSuccess, AuditStatusFailed, AuditStatusSkipped:
		return true
	default:
		return false
	}
}

// AuditEntry records one task attempt within a run. SheetName is empty for
// run-level entries and set for per-sheet transform entries.
type AuditEntry struct {
	ID               int64
	RunID            string
	RunAttempt       int
	TaskID           string
	SheetName        string
	Attempt          int
	ExecutionDate    time.Time
	Status           string
	RecordsProcessed int
	ErrorKind        *string
	ErrorMessage     *string
	CreatedAt        time.Time
}

// AuditFilter holds filter parameters for querying audit entries.
type AuditFilter struct {
	RunID  *string
	TaskID *string
	Status *string
	Page   PageRequest
}
