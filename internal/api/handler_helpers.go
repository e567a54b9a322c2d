package api

import (
	"encoding/json"
	"net/http"

	"budget-etl/internal/domain"
)

// maxBodyBytes caps request bodies; trigger payloads are tiny.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestError renders a body or parameter binding failure as a 400.
func (h *APIHandler) requestError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeError(w, r, domain.ErrValidation("%v", err))
}

// writeError renders err with the status its domain type maps to. Internal
// errors are logged and hidden from the client.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, Error{Code: int32(status), Message: msg}) //nolint:gosec // HTTP status codes are always in [100,599]
}

// pageFromParams builds a PageRequest from the bound max_results and
// page_token parameters.
func pageFromParams(maxResults *int32, pageToken *string) (domain.PageRequest, error) {
	var p domain.PageRequest
	if pageToken != nil {
		p.PageToken = *pageToken
	}
	if maxResults != nil {
		if *maxResults < 1 {
			return p, domain.ErrValidation("max_results must be a positive integer, got %d", *maxResults)
		}
		p.MaxResults = int(*maxResults)
	}
	return p, nil
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// === Mapping helpers ===

// RunToAPI converts a run and its sheet results to the API shape.
func RunToAPI(run domain.Run, sheets []domain.SheetResult) Run {
	out := Run{
		RunID:              run.ID,
		Status:             run.Status,
		Attempt:            run.Attempt,
		InputFileReference: run.InputFileReference,
		FileDigest:         run.FileDigest,
		RequestedBy:        run.RequestedBy,
		RequestedAt:        run.RequestedAt,
		StartedAt:          run.StartedAt,
		EndedAt:            run.EndedAt,
		ErrorMessage:       run.ErrorMessage,
		Report:             run.Report,
	}
	out.PerSheetResults = make([]SheetResult, len(sheets))
	for i, s := range sheets {
		out.PerSheetResults[i] = sheetResultToAPI(s)
	}
	return out
}

func sheetResultToAPI(s domain.SheetResult) SheetResult {
	return SheetResult{
		SheetName:          s.SheetName,
		Status:             s.Status,
		RecordsProcessed:   s.RecordsProcessed,
		RejectedCount:      s.RejectedCount,
		ZeroAmountCount:    s.ZeroAmountCount,
		EmptyCategoryCount: s.EmptyCategoryCount,
		ErrorKind:          s.ErrorKind,
		ErrorMessage:       s.ErrorMessage,
		Warnings:           s.Warnings,
	}
}

// AuditEntryToAPI converts an audit entry to the API shape.
func AuditEntryToAPI(e domain.AuditEntry) AuditEntry {
	return AuditEntry{
		RunID:            e.RunID,
		RunAttempt:       e.RunAttempt,
		TaskID:           e.TaskID,
		SheetName:        e.SheetName,
		Attempt:          e.Attempt,
		ExecutionDate:    e.ExecutionDate,
		Status:           e.Status,
		RecordsProcessed: e.RecordsProcessed,
		ErrorKind:        e.ErrorKind,
		ErrorMessage:     e.ErrorMessage,
		CreatedAt:        e.CreatedAt,
	}
}

func validRunStatus(s string) error {
	switch s {
	case domain.RunStatusPending, domain.RunStatusExtracting, domain.RunStatusMapping,
		domain.RunStatusNormalizing, domain.RunStatusAggregating, domain.RunStatusLoading,
		domain.RunStatusValidating, domain.RunStatusSucceeded, domain.RunStatusPartial,
		domain.RunStatusFailed, domain.RunStatusCancelled:
		return nil
	}
	return domain.ErrValidation("unknown run status %q", s)
}
