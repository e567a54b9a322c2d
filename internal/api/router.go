package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"budget-etl/internal/middleware"
)

// Pinger reports whether the sink is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger         *slog.Logger
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Sink           Pinger
}

const healthTimeout = 2 * time.Second

// NewRouter builds the HTTP router: /healthz and /openapi.json at the root
// and the run API under /v1. ctx bounds the rate limiter's background sweeper.
func NewRouter(ctx context.Context, h *APIHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Location", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthHandler(cfg.Sink))
	r.Get("/openapi.json", openapiHandler(cfg.Logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		h.Routes(r)
	})
	return r
}

func healthHandler(sink Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sink == nil {
			writeJSON(w, http.StatusOK, Health{Status: "ok", Sink: "unchecked"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := sink.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Health{Status: "degraded", Sink: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Health{Status: "ok", Sink: "ok"})
	}
}

func openapiHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		swagger, err := GetSwagger()
		if err != nil {
			logger.ErrorContext(r.Context(), "openapi document unavailable", "error", err)
			writeJSON(w, http.StatusInternalServerError, Error{Code: http.StatusInternalServerError, Message: http.StatusText(http.StatusInternalServerError)})
			return
		}
		writeJSON(w, http.StatusOK, swagger)
	}
}
