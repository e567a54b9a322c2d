package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"budget-etl/internal/api"
	"budget-etl/internal/app"
	"budget-etl/internal/config"
	internaldb "budget-etl/internal/db"
	"budget-etl/internal/domain"
)

// backend is where commands send their requests: the local sink, or a
// server given by --host.
type backend interface {
	run(ctx context.Context, req domain.TriggerRequest, wait bool) (*api.Run, error)
	status(ctx context.Context, runID string) (*api.Run, error)
	listRuns(ctx context.Context, status string, page domain.PageRequest) (*api.PaginatedRuns, error)
	audit(ctx context.Context, runID string) ([]api.AuditEntry, error)
	cancel(ctx context.Context, runID, principal string) error
	close(ctx context.Context) error
}

// === Local ===

type localBackend struct {
	app   *app.App
	pools *internaldb.Pools
}

func openLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*localBackend, error) {
	pools, err := app.OpenSink(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Deps{Cfg: cfg, Pools: pools, Logger: logger})
	if err != nil {
		_ = pools.Close()
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = pools.Close()
		return nil, err
	}
	return &localBackend{app: a, pools: pools}, nil
}

func (b *localBackend) run(ctx context.Context, req domain.TriggerRequest, wait bool) (*api.Run, error) {
	if !wait {
		return nil, errors.New("--detach needs a server: pass --host")
	}
	view, err := b.app.Pipeline.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	out := api.RunToAPI(view.Run, view.Sheets)
	return &out, nil
}

func (b *localBackend) status(ctx context.Context, runID string) (*api.Run, error) {
	view, err := b.app.Pipeline.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := api.RunToAPI(view.Run, view.Sheets)
	return &out, nil
}

func (b *localBackend) listRuns(ctx context.Context, status string, page domain.PageRequest) (*api.PaginatedRuns, error) {
	filter := domain.RunFilter{Page: page}
	if status != "" {
		filter.Status = &status
	}
	runs, total, err := b.app.Pipeline.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := &api.PaginatedRuns{Data: make([]api.Run, len(runs))}
	for i, r := range runs {
		out.Data[i] = api.RunToAPI(r, nil)
	}
	if next := domain.NextPageToken(page.Offset(), page.Limit(), total); next != "" {
		out.NextPageToken = &next
	}
	return out, nil
}

func (b *localBackend) audit(ctx context.Context, runID string) ([]api.AuditEntry, error) {
	entries, err := b.app.Pipeline.ListRunAudit(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]api.AuditEntry, len(entries))
	for i, e := range entries {
		out[i] = api.AuditEntryToAPI(e)
	}
	return out, nil
}

func (b *localBackend) cancel(context.Context, string, string) error {
	return errors.New("cancel needs the server running the run: pass --host")
}

func (b *localBackend) close(ctx context.Context) error {
	return errors.Join(b.app.Close(ctx), b.pools.Close())
}

// === Remote ===

// pollInterval is how often a remote run is polled while waiting.
const pollInterval = time.Second

type remoteBackend struct {
	client *Client
	poll   time.Duration
}

func newRemote(host string) *remoteBackend {
	return &remoteBackend{client: NewClient(host), poll: pollInterval}
}

func (b *remoteBackend) run(ctx context.Context, req domain.TriggerRequest, wait bool) (*api.Run, error) {
	body := api.TriggerRunRequest{
		InputFileReference: req.InputFileReference,
		RunID:              req.RunID,
		RequestedBy:        req.RequestedBy,
	}
	if !req.Timestamp.IsZero() {
		body.Timestamp = &req.Timestamp
	}
	var accepted api.TriggerRunResponse
	if err := b.client.call(ctx, http.MethodPost, "/runs", nil, body, &accepted); err != nil {
		return nil, err
	}
	if !wait {
		return b.status(ctx, accepted.RunID)
	}
	return b.waitFor(ctx, accepted.RunID, req.RequestedBy)
}

// waitFor polls until the run is terminal. If ctx ends first the run is
// cancelled on the server and waited for.
func (b *remoteBackend) waitFor(ctx context.Context, runID, principal string) (*api.Run, error) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		run, err := b.status(context.WithoutCancel(ctx), runID)
		if err != nil {
			return nil, err
		}
		if domain.IsTerminalRunStatus(run.Status) {
			return run, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if err := b.cancel(context.WithoutCancel(ctx), runID, principal); err != nil {
				return nil, fmt.Errorf("cancel run %s: %w", runID, err)
			}
			return b.waitFor(context.WithoutCancel(ctx), runID, principal)
		}
	}
}

func (b *remoteBackend) status(ctx context.Context, runID string) (*api.Run, error) {
	var run api.Run
	if err := b.client.call(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (b *remoteBackend) listRuns(ctx context.Context, status string, page domain.PageRequest) (*api.PaginatedRuns, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if page.MaxResults > 0 {
		q.Set("max_results", strconv.Itoa(page.MaxResults))
	}
	if page.PageToken != "" {
		q.Set("page_token", page.PageToken)
	}
	var out api.PaginatedRuns
	if err := b.client.call(ctx, http.MethodGet, "/runs", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *remoteBackend) audit(ctx context.Context, runID string) ([]api.AuditEntry, error) {
	var out api.AuditEntries
	if err := b.client.call(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID)+"/audit", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (b *remoteBackend) cancel(ctx context.Context, runID, principal string) error {
	return b.client.call(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/cancel", nil,
		api.CancelRunRequest{RequestedBy: principal}, nil)
}

func (b *remoteBackend) close(context.Context) error { return nil }
