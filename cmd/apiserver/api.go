package main

import (
	"net/http"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/auth/oidc"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/KeyIP-MMP/internal/interfaces/http"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/middleware"
	"github.com/turtacn/KeyIP-MMP/internal/platform"
)

// api is everything the listeners serve, built from the configuration and
// the opened backends.
type api struct {
	router   http.Handler
	services *mmp.ServiceSet
	pairs    handlers.PairFinder
	sinks    func(submissionID string) (fragment.RecordSink, error)
}

func newAPI(cfg *config.Config, b *platform.Backends, metrics *platform.Metrics, logger logging.Logger) (*api, error) {
	set := mmp.NewServiceSet(cfg.MMP, b.EngineDeps(metrics.MMP, logger))
	sinks := func(submissionID string) (fragment.RecordSink, error) {
		return mmp.BuildSink(cfg, b.SinkDeps(metrics.MMP), submissionID)
	}

	checks := b.HealthCheckers()
	auth := middleware.AuthConfig{
		Secret:   []byte(cfg.Server.HTTP.JWTSecret),
		Issuer:   cfg.Server.HTTP.JWTIssuer,
		Audience: cfg.Server.HTTP.JWTAudience,
	}
	if u := cfg.Server.HTTP.JWKSURL; u != "" {
		keys, err := oidc.NewKeySet(oidc.KeySetConfig{URL: u}, logger)
		if err != nil {
			return nil, err
		}
		auth.Keys = keys.Keyfunc
		checks = append(checks, keys)
	}

	rc := httpserver.RouterConfig{
		FragmentHandler:   handlers.NewFragmentHandler(set, sinks, cfg.Server.HTTP, logger),
		HealthHandler:     handlers.NewHealthHandler(version, checks...),
		LoggingMiddleware: middleware.NewLoggingMiddleware(logger, metrics.MMP, middleware.DefaultLoggingConfig()),
		MetricsHandler:    metrics.Handler(),
		MetricsPath:       cfg.Monitoring.Prometheus.Path,
	}

	// Postgres answers core lookups when both stores are open; neighbours
	// need the graph.
	var pairs handlers.PairFinder
	switch {
	case b.Fragments != nil:
		pairs = b.Fragments
	case b.Graph != nil:
		pairs = b.Graph
	}
	if pairs != nil {
		var neighbours handlers.NeighbourFinder
		if b.Graph != nil {
			neighbours = b.Graph
		}
		rc.PairsHandler = handlers.NewPairsHandler(pairs, neighbours, logger)
	}
	if b.Searcher != nil {
		rc.SearchHandler = handlers.NewSearchHandler(b.Searcher, logger)
	}
	if b.Archive != nil {
		rc.RunsHandler = handlers.NewRunsHandler(b.Archive, logger)
	}

	if len(auth.Secret) > 0 || auth.Keys != nil {
		rc.AuthMiddleware = middleware.NewAuthMiddleware(auth, logger)
	}
	if rps := cfg.Server.HTTP.RateLimit; rps > 0 {
		rc.RateLimitMiddleware = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			RequestsPerSecond: rps,
			BurstSize:         cfg.Server.HTTP.RateBurst,
		})
	}

	return &api{
		router:   httpserver.NewRouter(rc),
		services: set,
		pairs:    pairs,
		sinks:    sinks,
	}, nil
}

// fragmentationService exposes the same services over gRPC.
func (a *api) fragmentationService(maxMolecules int, logger logging.Logger) *services.FragmentationService {
	var pairs services.PairFinder
	if a.pairs != nil {
		pairs = a.pairs
	}
	return services.NewFragmentationService(a.services, pairs, a.sinks, maxMolecules, logger)
}
