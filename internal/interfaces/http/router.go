package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/middleware"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// RouterConfig aggregates the handlers and middleware of the route tree.
// Nil handlers leave their routes unmounted.
type RouterConfig struct {
	// Handlers
	FragmentHandler *handlers.FragmentHandler
	PairsHandler    *handlers.PairsHandler
	SearchHandler   *handlers.SearchHandler
	RunsHandler     *handlers.RunsHandler
	HealthHandler   *handlers.HealthHandler

	// Middleware
	AuthMiddleware      *middleware.AuthMiddleware
	LoggingMiddleware   *middleware.LoggingMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware

	// MetricsHandler serves MetricsPath (default /metrics) when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

// NewRouter builds the route tree: global middleware, public probes and
// metrics, and the authenticated /api/v1 group.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if cfg.LoggingMiddleware != nil {
		r.Use(cfg.LoggingMiddleware.Handler)
	}
	r.Use(chimw.Recoverer)

	mountOps(r, cfg.HealthHandler, cfg.MetricsHandler, cfg.MetricsPath)

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimitMiddleware != nil {
			api.Use(cfg.RateLimitMiddleware.Handler)
		}
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.Handler)
		}

		if h := cfg.FragmentHandler; h != nil {
			api.Post("/fragments", h.Fragment)
		}
		if h := cfg.PairsHandler; h != nil {
			api.Get("/pairs", h.Pairs)
			api.Get("/compounds/{compoundID}/neighbours", h.Neighbours)
		}
		if h := cfg.SearchHandler; h != nil {
			api.Get("/records/search", h.Search)
		}
		if h := cfg.RunsHandler; h != nil {
			api.Route("/runs", func(rr chi.Router) {
				rr.Get("/", h.List)
				rr.Get("/{runID}", h.Get)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, errors.ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	return r
}

// NewOpsRouter serves only the probes and metrics, for processes without
// an API.
func NewOpsRouter(health *handlers.HealthHandler, metrics http.Handler, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	mountOps(r, health, metrics, metricsPath)
	return r
}

func mountOps(r chi.Router, health *handlers.HealthHandler, metrics http.Handler, metricsPath string) {
	if health != nil {
		r.Get("/healthz", health.Liveness)
		r.Get("/readyz", health.Readiness)
	}
	if metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, metrics)
	}
}
