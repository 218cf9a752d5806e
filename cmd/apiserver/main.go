// Command apiserver serves fragmentation and matched-pair lookups over HTTP
// and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/KeyIP-MMP/internal/interfaces/grpc"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/KeyIP-MMP/internal/interfaces/http"
	"github.com/turtacn/KeyIP-MMP/internal/platform"
)

// Set via -ldflags.
var version = "dev"

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	httpPort   int
	grpcPort   int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file (default: search ./configs and .)")
	flag.IntVar(&opts.httpPort, "http-port", 0, "HTTP server port (overrides config)")
	flag.IntVar(&opts.grpcPort, "grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	overrides := map[string]interface{}{}
	if opts.httpPort > 0 {
		overrides["server.http.port"] = opts.httpPort
	}
	if opts.grpcPort > 0 {
		overrides["server.grpc.port"] = opts.grpcPort
	}
	return platform.LoadConfig(opts.configPath, overrides)
}

// run serves until ctx is cancelled or a listener fails.
func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := platform.NewLogger(cfg.Monitoring.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting KeyIP-MMP API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.HTTP.Port),
		logging.Int("grpc_port", cfg.Server.GRPC.Port),
		logging.Strings("sinks", cfg.Sinks.Enabled),
	)

	if opts.configPath != "" {
		watchErr := config.Watch(opts.configPath, func(c *config.Config) {
			logger.Warn("configuration file changed; restart to apply",
				logging.String("path", opts.configPath),
				logging.Int("max_cuts", c.MMP.MaxCuts),
				logging.Int("workers", c.MMP.Workers))
		}, func(err error) {
			logger.Error("configuration file rejected", logging.Err(err))
		})
		if watchErr != nil {
			logger.Warn("config watch disabled", logging.Err(watchErr))
		}
	}

	metrics, err := platform.NewMetrics(cfg.Monitoring.Prometheus, logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	backends, err := platform.Open(ctx, cfg, platform.SinkNeeds(cfg).Or(platform.ConfiguredNeeds(cfg)), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Error("closing backends", logging.Err(err))
		}
	}()

	a, err := newAPI(cfg, backends, metrics, logger)
	if err != nil {
		return err
	}
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, a.router, logger)

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPC.Port > 0 {
		grpcSrv, err = grpcserver.NewServer(cfg.Server.HTTP.Host, cfg.Server.GRPC,
			grpcserver.WithLogger(logger), grpcserver.WithMetrics(metrics.MMP))
		if err != nil {
			return err
		}
		grpcSrv.RegisterService(&services.FragmentationServiceDesc, a.fragmentationService(cfg.Server.HTTP.MaxMolecules, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Stop(sctx)
		if grpcSrv != nil {
			err = multierr.Append(err, grpcSrv.Stop(sctx))
		}
		return err
	})

	err = g.Wait()
	logger.Info("servers stopped")
	return err
}
