// Command worker fragments molecule submissions consumed from Kafka and
// publishes the resulting records through the configured sinks.
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

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/KeyIP-MMP/internal/interfaces/http"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyIP-MMP/internal/platform"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Set via -ldflags.
var version = "dev"

const (
	defaultHandlerTimeout = 5 * time.Minute
	submissionLease       = 10 * time.Minute
	shutdownTimeout       = 30 * time.Second
)

type options struct {
	configPath     string
	workers        int
	handlerTimeout time.Duration
	opsPort        int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file (default: search ./configs and .)")
	flag.IntVar(&opts.workers, "workers", 0, "molecules fragmented concurrently per submission (overrides mmp.workers)")
	flag.DurationVar(&opts.handlerTimeout, "handler-timeout", defaultHandlerTimeout, "time limit for one submission")
	flag.IntVar(&opts.opsPort, "ops-port", 0, "port of /healthz, /readyz and metrics (default: monitoring.prometheus.port)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

// workerConfig loads the configuration with the flag overrides and turns
// the kafka sink on: the worker always answers with events.
func workerConfig(opts options) (*config.Config, error) {
	overrides := map[string]interface{}{}
	if opts.workers > 0 {
		overrides["mmp.workers"] = opts.workers
	}
	cfg, err := platform.LoadConfig(opts.configPath, overrides)
	if err != nil {
		return nil, err
	}
	if len(cfg.Messaging.Kafka.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "messaging.kafka.brokers is required")
	}
	if !cfg.SinkEnabled(config.SinkKafka) {
		cfg.Sinks.Enabled = append(append([]string(nil), cfg.Sinks.Enabled...), config.SinkKafka)
	}
	return cfg, nil
}

func newHandler(cfg *config.Config, b *platform.Backends, metrics *platform.Metrics, timeout time.Duration, logger logging.Logger) *submissionHandler {
	h := &submissionHandler{
		services: mmp.NewServiceSet(cfg.MMP, b.EngineDeps(metrics.MMP, logger)),
		sinks: func(submissionID string) (fragment.RecordSink, error) {
			return mmp.BuildSink(cfg, b.SinkDeps(metrics.MMP), submissionID)
		},
		timeout: timeout,
		metrics: metrics.MMP,
		logger:  logger.Named("submissions"),
	}
	if b.Producer != nil {
		h.deadLetter = b.Producer
	}
	if b.Redis != nil {
		client := b.Redis
		h.lock = func(submissionID string) Locker {
			return redis.NewMutex(client, "submission:"+submissionID, redis.WithLockTTL(submissionLease))
		}
	}
	return h
}

// run consumes until ctx is cancelled.
func run(ctx context.Context, opts options) error {
	cfg, err := workerConfig(opts)
	if err != nil {
		return err
	}
	logger, err := platform.NewLogger(cfg.Monitoring.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting KeyIP-MMP worker",
		logging.String("version", version),
		logging.Strings("brokers", cfg.Messaging.Kafka.Brokers),
		logging.String("group", cfg.Messaging.Kafka.ConsumerGroup),
		logging.Int("workers", cfg.MMP.Workers),
		logging.Strings("sinks", cfg.Sinks.Enabled))

	metrics, err := platform.NewMetrics(cfg.Monitoring.Prometheus, logger)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	needs := platform.SinkNeeds(cfg).Or(platform.Needs{Kafka: true, Redis: cfg.Cache.Redis.Addr != ""})
	backends, err := platform.Open(ctx, cfg, needs, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Error("closing backends", logging.Err(err))
		}
	}()

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Messaging.Kafka, kafka.TopicMoleculeSubmitted), logger)
	if err != nil {
		return err
	}
	h := newHandler(cfg, backends, metrics, opts.handlerTimeout, logger)
	consumer.Subscribe(kafka.TopicMoleculeSubmitted, h.Handle)

	opsPort := opts.opsPort
	if opsPort == 0 {
		opsPort = cfg.Monitoring.Prometheus.Port
	}
	health := handlers.NewHealthHandler(version, backends.HealthCheckers()...)
	ops := httpserver.NewServer(config.HTTPConfig{Host: cfg.Server.HTTP.Host, Port: opsPort, ShutdownTimeout: shutdownTimeout},
		httpserver.NewOpsRouter(health, metrics.Handler(), cfg.Monitoring.Prometheus.Path), logger)

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(ops.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		// Close waits for the in-flight submission.
		err := consumer.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Append(err, ops.Stop(sctx))
	})

	err = g.Wait()
	m := consumer.Metrics()
	logger.Info("worker stopped",
		logging.Int64("consumed", m.MessagesConsumed.Load()),
		logging.Int64("processed", m.MessagesProcessed.Load()),
		logging.Int64("dead_lettered", m.MessagesDeadLettered.Load()))
	return err
}
