package platform

import (
	"net/http"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
)

// NewLogger builds the process logger from monitoring.logging and makes it
// the package default.
func NewLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	out := cfg.Output
	if out == "" {
		out = config.DefaultLogOutput
	}
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Level,
		Format:           cfg.Format,
		OutputPaths:      []string{out},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// Metrics is the process metrics registry.  A disabled registry has a nil
// collector; MMPMetrics is then nil and every recorder is a no-op.
type Metrics struct {
	Collector prometheus.MetricsCollector
	MMP       *prometheus.MMPMetrics
}

// NewMetrics creates the registry described by monitoring.prometheus.
func NewMetrics(cfg config.PrometheusConfig, logger logging.Logger) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Metrics{Collector: collector, MMP: prometheus.NewMMPMetrics(collector)}, nil
}

// Handler serves the registry, or nil when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.Collector == nil {
		return nil
	}
	return m.Collector.Handler()
}
