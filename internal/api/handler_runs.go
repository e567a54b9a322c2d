package api

import (
	"context"
	"strings"
	"time"

	"budget-etl/internal/domain"
)

// TriggerRun implements POST /v1/runs. The run executes in the background;
// the response only confirms it was accepted.
func (h *APIHandler) TriggerRun(ctx context.Context, req TriggerRunRequestObject) (TriggerRunResponseObject, error) {
	trigger := domain.TriggerRequest{
		InputFileReference: req.Body.InputFileReference,
		RunID:              req.Body.RunID,
		RequestedBy:        req.Body.RequestedBy,
	}
	if req.Body.Timestamp != nil {
		trigger.Timestamp = req.Body.Timestamp.UTC()
	}

	res, err := h.runs.Trigger(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return TriggerRun202JSONResponse{
		Body:    TriggerRunResponse{RunID: res.RunID, InitialStatus: res.InitialStatus},
		Headers: TriggerRun202ResponseHeaders{Location: "/v1/runs/" + res.RunID},
	}, nil
}

// GetRun implements GET /v1/runs/{run_id}.
func (h *APIHandler) GetRun(ctx context.Context, req GetRunRequestObject) (GetRunResponseObject, error) {
	view, err := h.runs.GetStatus(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	return GetRun200JSONResponse(RunToAPI(view.Run, view.Sheets)), nil
}

// ListRuns implements GET /v1/runs with an optional status filter.
func (h *APIHandler) ListRuns(ctx context.Context, req ListRunsRequestObject) (ListRunsResponseObject, error) {
	page, err := pageFromParams(req.Params.MaxResults, req.Params.PageToken)
	if err != nil {
		return nil, err
	}
	filter := domain.RunFilter{Page: page}
	if req.Params.Status != nil && *req.Params.Status != "" {
		status := strings.ToUpper(*req.Params.Status)
		if err := validRunStatus(status); err != nil {
			return nil, err
		}
		filter.Status = &status
	}

	runs, total, err := h.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	data := make([]Run, len(runs))
	for i, run := range runs {
		data[i] = RunToAPI(run, nil)
	}
	next := domain.NextPageToken(page.Offset(), page.Limit(), total)
	return ListRuns200JSONResponse{Data: data, NextPageToken: optStr(next)}, nil
}

// ListRunAudit implements GET /v1/runs/{run_id}/audit.
func (h *APIHandler) ListRunAudit(ctx context.Context, req ListRunAuditRequestObject) (ListRunAuditResponseObject, error) {
	entries, err := h.runs.ListRunAudit(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	data := make([]AuditEntry, len(entries))
	for i, e := range entries {
		data[i] = AuditEntryToAPI(e)
	}
	return ListRunAudit200JSONResponse{Data: data}, nil
}

// CancelRun implements POST /v1/runs/{run_id}/cancel. Cancellation is
// asynchronous; the run reaches CANCELLED at its next stage boundary.
func (h *APIHandler) CancelRun(ctx context.Context, req CancelRunRequestObject) (CancelRunResponseObject, error) {
	principal := "api"
	if req.Body != nil {
		if p := strings.TrimSpace(req.Body.RequestedBy); p != "" {
			principal = p
		}
	}

	if err := h.runs.Cancel(ctx, req.RunID, principal); err != nil {
		return nil, err
	}
	return CancelRun202JSONResponse{RunID: req.RunID, RequestedAt: time.Now().UTC()}, nil
}
