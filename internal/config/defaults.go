package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultHTTPHost        = "0.0.0.0"
	DefaultHTTPPort        = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodySize     = 8 << 20
	DefaultMaxMolecules    = 1000
	DefaultRateBurst       = 20

	DefaultGRPCMaxRecvMsgSize  = 16 << 20
	DefaultGRPCGracefulTimeout = 10 * time.Second

	DefaultMaxCuts         = 3
	DefaultMoleculeTimeout = 30 * time.Second
	DefaultWorkers         = 4
	DefaultCacheTTL        = 24 * time.Hour

	DefaultSinkBatchSize = 500

	DefaultPostgresPort     = 5432
	DefaultPostgresSSLMode  = "disable"
	DefaultPostgresMaxConns = 10
	DefaultMigrationPath    = "migrations"

	DefaultNeo4jDatabase = "neo4j"

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "mmp:"

	DefaultKafkaBroker        = "localhost:9092"
	DefaultKafkaConsumerGroup = "mmp-worker"

	DefaultOpenSearchIndex = "mmp-fragments"

	DefaultMinIOPrefix = "runs/"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"

	DefaultPrometheusPort      = 9091
	DefaultPrometheusPath      = "/metrics"
	DefaultPrometheusNamespace = "mmp"
)

// ApplyDefaults fills zero-value fields in cfg.  Values already set win.
// It runs after unmarshalling and before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	h := &cfg.Server.HTTP
	if h.Host == "" {
		h.Host = DefaultHTTPHost
	}
	if h.Port == 0 {
		h.Port = DefaultHTTPPort
	}
	if h.ReadTimeout == 0 {
		h.ReadTimeout = DefaultReadTimeout
	}
	if h.WriteTimeout == 0 {
		h.WriteTimeout = DefaultWriteTimeout
	}
	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = DefaultShutdownTimeout
	}
	if h.MaxBodySize == 0 {
		h.MaxBodySize = DefaultMaxBodySize
	}
	if h.MaxMolecules == 0 {
		h.MaxMolecules = DefaultMaxMolecules
	}
	if h.RateLimit > 0 && h.RateBurst == 0 {
		h.RateBurst = DefaultRateBurst
	}
	g := &cfg.Server.GRPC
	if g.MaxRecvMsgSize == 0 {
		g.MaxRecvMsgSize = DefaultGRPCMaxRecvMsgSize
	}
	if g.GracefulTimeout == 0 {
		g.GracefulTimeout = DefaultGRPCGracefulTimeout
	}

	// ── MMP ───────────────────────────────────────────────────────────────────
	if cfg.MMP.MaxCuts == 0 {
		cfg.MMP.MaxCuts = DefaultMaxCuts
	}
	if cfg.MMP.MoleculeTimeout == 0 {
		cfg.MMP.MoleculeTimeout = DefaultMoleculeTimeout
	}
	if cfg.MMP.Workers == 0 {
		cfg.MMP.Workers = DefaultWorkers
	}
	if cfg.MMP.CombinationParallelism == 0 {
		cfg.MMP.CombinationParallelism = 1
	}
	if cfg.MMP.CacheTTL == 0 {
		cfg.MMP.CacheTTL = DefaultCacheTTL
	}
	if cfg.Sinks.BatchSize == 0 {
		cfg.Sinks.BatchSize = DefaultSinkBatchSize
	}

	// ── Database ──────────────────────────────────────────────────────────────
	pg := &cfg.Database.Postgres
	if pg.Port == 0 {
		pg.Port = DefaultPostgresPort
	}
	if pg.SSLMode == "" {
		pg.SSLMode = DefaultPostgresSSLMode
	}
	if pg.MaxConns == 0 {
		pg.MaxConns = DefaultPostgresMaxConns
	}
	if pg.MigrationPath == "" {
		pg.MigrationPath = DefaultMigrationPath
	}
	if cfg.Database.Neo4j.Database == "" {
		cfg.Database.Neo4j.Database = DefaultNeo4jDatabase
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Messaging ─────────────────────────────────────────────────────────────
	k := &cfg.Messaging.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{DefaultKafkaBroker}
	}
	if k.ConsumerGroup == "" {
		k.ConsumerGroup = DefaultKafkaConsumerGroup
	}
	if k.AutoOffsetReset == "" {
		k.AutoOffsetReset = "earliest"
	}
	if k.MaxRetries == 0 {
		k.MaxRetries = 3
	}
	if k.NumPartitions == 0 {
		k.NumPartitions = 3
	}
	if k.ReplicationFactor == 0 {
		k.ReplicationFactor = 1
	}

	// ── Search / Storage ──────────────────────────────────────────────────────
	if cfg.Search.OpenSearch.Index == "" {
		cfg.Search.OpenSearch.Index = DefaultOpenSearchIndex
	}
	if cfg.Search.OpenSearch.BulkBatchSize == 0 {
		cfg.Search.OpenSearch.BulkBatchSize = DefaultSinkBatchSize
	}
	if cfg.Storage.MinIO.Prefix == "" {
		cfg.Storage.MinIO.Prefix = DefaultMinIOPrefix
	}

	// ── Monitoring ────────────────────────────────────────────────────────────
	lg := &cfg.Monitoring.Logging
	if lg.Level == "" {
		lg.Level = DefaultLogLevel
	}
	if lg.Format == "" {
		lg.Format = DefaultLogFormat
	}
	if lg.Output == "" {
		lg.Output = DefaultLogOutput
	}
	pr := &cfg.Monitoring.Prometheus
	if pr.Port == 0 {
		pr.Port = DefaultPrometheusPort
	}
	if pr.Path == "" {
		pr.Path = DefaultPrometheusPath
	}
	if pr.Namespace == "" {
		pr.Namespace = DefaultPrometheusNamespace
	}
}
