// Package app wires repositories, services and the HTTP handler for the
// budget ETL binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"budget-etl/internal/api"
	"budget-etl/internal/config"
	internaldb "budget-etl/internal/db"
	"budget-etl/internal/db/repository"
	"budget-etl/internal/middleware"
	"budget-etl/internal/service/audit"
	"budget-etl/internal/service/extract"
	"budget-etl/internal/service/pipeline"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Pools  *internaldb.Pools
	Logger *slog.Logger

	// FetcherOptions customise input fetching (tests swap openers).
	FetcherOptions []extract.FetcherOption
}

// App is the fully wired application.
type App struct {
	Pipeline  *pipeline.Service
	Recorder  *audit.Recorder
	Scheduler *pipeline.Scheduler // nil unless SCHEDULE_CRON is set
	Handler   *api.APIHandler

	cfg     *config.Config
	pools   *internaldb.Pools
	fetcher *extract.Fetcher
	logger  *slog.Logger
}

// New wires all repositories and services from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === Repositories ===
	runRepo := repository.NewRunRepo(deps.Pools.Write, deps.Pools.Read)
	auditRepo := repository.NewAuditRepo(deps.Pools.Write, deps.Pools.Read)
	budgetRepo := repository.NewBudgetRepo(deps.Pools.Write, deps.Pools.Read)

	// === Services ===
	recorder := audit.NewRecorder(auditRepo, cfg.AuditFallbackPath, logger.With("component", "audit"))
	fetcher := extract.NewFetcher(cfg.Storage, logger.With("component", "fetcher"), deps.FetcherOptions...)

	pipelineCfg := cfg.Pipeline
	svc, err := pipeline.NewService(runRepo, auditRepo, budgetRepo, recorder, fetcher, &pipelineCfg, logger.With("component", "pipeline"))
	if err != nil {
		_ = fetcher.Close()
		return nil, fmt.Errorf("create pipeline service: %w", err)
	}

	a := &App{
		Pipeline: svc,
		Recorder: recorder,
		Handler:  api.NewHandler(svc, logger.With("component", "api")),
		cfg:      cfg,
		pools:    deps.Pools,
		fetcher:  fetcher,
		logger:   logger,
	}
	if cfg.ScheduleCron != "" {
		a.Scheduler = pipeline.NewScheduler(svc, cfg.ScheduleCron, cfg.ScheduleInput, logger.With("component", "scheduler"))
	}
	return a, nil
}

// Start recovers state left by a previous process and starts the scheduler,
// if one is configured.
func (a *App) Start(ctx context.Context) error {
	if err := a.recoverState(ctx); err != nil {
		return err
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Router builds the HTTP handler for the server binary.
func (a *App) Router(ctx context.Context) http.Handler {
	return api.NewRouter(ctx, a.Handler, api.RouterConfig{
		Logger: a.logger.With("component", "http"),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		Sink:           a.pools.Read,
	})
}

// Close stops the scheduler, cancels in-flight runs and waits for them to
// record their outcome, bounded by ctx.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	return errors.Join(a.Pipeline.Shutdown(ctx), a.fetcher.Close())
}

// OpenSink opens the budget database and applies pending migrations.
func OpenSink(cfg *config.Config) (*internaldb.Pools, error) {
	pools, err := internaldb.OpenSink(cfg.BudgetDBPath, cfg.Pipeline.Workers)
	if err != nil {
		return nil, fmt.Errorf("open budget sink: %w", err)
	}
	if err := internaldb.RunMigrations(pools.Write); err != nil {
		_ = pools.Close()
		return nil, fmt.Errorf("migrate budget sink: %w", err)
	}
	return pools, nil
}
