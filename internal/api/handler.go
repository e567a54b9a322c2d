// Package api serves the HTTP interface for triggering runs and querying
// their status and audit trail.
package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"budget-etl/internal/domain"
)

// runService defines the run operations used by the API handler.
type runService interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResult, error)
	GetStatus(ctx context.Context, runID string) (*domain.RunStatusView, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error)
	ListRunAudit(ctx context.Context, runID string) ([]domain.AuditEntry, error)
	Cancel(ctx context.Context, runID, principal string) error
}

// APIHandler implements the /v1 endpoints.
type APIHandler struct {
	runs   runService
	logger *slog.Logger
}

// NewHandler creates a new APIHandler.
func NewHandler(runs runService, logger *slog.Logger) *APIHandler {
	return &APIHandler{runs: runs, logger: logger}
}

var _ StrictServerInterface = (*APIHandler)(nil)

// Routes registers the run endpoints on r. Path and query parameters are
// bound per openapi.yaml; errors render as Error bodies.
func (h *APIHandler) Routes(r chi.Router) {
	strict := NewStrictHandlerWithOptions(h, nil, StrictHTTPServerOptions{
		RequestErrorHandlerFunc:  h.requestError,
		ResponseErrorHandlerFunc: h.writeError,
	})
	HandlerWithOptions(strict, ChiServerOptions{BaseRouter: r, ErrorHandlerFunc: h.requestError})
}
