// Package config defines the configuration of the KeyIP-MMP services and
// tools.  Structures and validation live here; loading is in loader.go.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// HTTPConfig holds HTTP server tunables.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	MaxMolecules    int           `mapstructure:"max_molecules"` // per fragment request

	// JWTSecret enables HS256 bearer authentication on /api/v1 when set;
	// JWKSURL does the same for RSA tokens of an OpenID Connect provider.
	JWTSecret   string  `mapstructure:"jwt_secret"`
	JWKSURL     string  `mapstructure:"jwks_url"`
	JWTIssuer   string  `mapstructure:"jwt_issuer"`
	JWTAudience string  `mapstructure:"jwt_audience"`
	RateLimit   float64 `mapstructure:"rate_limit"` // requests per second per client; 0 disables
	RateBurst   int     `mapstructure:"rate_burst"`
}

// GRPCConfig holds the gRPC listener.  Port 0 disables it.
type GRPCConfig struct {
	Port            int           `mapstructure:"port"`
	MaxRecvMsgSize  int           `mapstructure:"max_recv_msg_size"`
	Reflection      bool          `mapstructure:"reflection"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// ServerConfig groups the network listeners.
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// MMPConfig tunes the fragmentation engine and batch driver.
type MMPConfig struct {
	MaxCuts                int           `mapstructure:"max_cuts"`
	MaxCutBonds            int           `mapstructure:"max_cut_bonds"` // 0 disables the bound
	MoleculeTimeout        time.Duration `mapstructure:"molecule_timeout"`
	Workers                int           `mapstructure:"workers"`
	CombinationParallelism int           `mapstructure:"combination_parallelism"`
	CacheEnabled           bool          `mapstructure:"cache_enabled"`
	CacheTTL               time.Duration `mapstructure:"cache_ttl"`
}

// SinksConfig selects where records go besides the primary output.
type SinksConfig struct {
	Enabled   []string `mapstructure:"enabled"` // csv | postgres | kafka | neo4j | opensearch | minio
	BatchSize int      `mapstructure:"batch_size"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// Neo4jConfig holds Neo4j connection parameters.
type Neo4jConfig struct {
	URI                   string        `mapstructure:"uri"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	MaxConnectionPoolSize int           `mapstructure:"max_connection_pool_size"`
	ConnectionTimeout     time.Duration `mapstructure:"connection_timeout"`
}

// DatabaseConfig groups the persistent stores.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// CacheConfig groups cache backends.
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// KafkaConfig holds Kafka producer and consumer parameters.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	ConsumerGroup     string        `mapstructure:"consumer_group"`
	AutoOffsetReset   string        `mapstructure:"auto_offset_reset"` // earliest | latest
	BatchSize         int           `mapstructure:"batch_size"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	AutoCreateTopics  bool          `mapstructure:"auto_create_topics"`
	NumPartitions     int           `mapstructure:"num_partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	SASLMechanism     string        `mapstructure:"sasl_mechanism"` // empty | PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	SASLUsername      string        `mapstructure:"sasl_username"`
	SASLPassword      string        `mapstructure:"sasl_password"`
	TLSEnabled        bool          `mapstructure:"tls_enabled"`
	TLSCAFile         string        `mapstructure:"tls_ca_file"`
}

// MessagingConfig groups message brokers.
type MessagingConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// OpenSearchConfig holds OpenSearch cluster parameters.
type OpenSearchConfig struct {
	Addresses          []string `mapstructure:"addresses"`
	Username           string   `mapstructure:"username"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Index              string   `mapstructure:"index"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
}

// SearchConfig groups search backends.
type SearchConfig struct {
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
}

// MinIOConfig holds S3-compatible object storage parameters.
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	Region     string `mapstructure:"region"`
	Prefix     string `mapstructure:"prefix"`

	// RetentionDays expires archived runs; 0 keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// StorageConfig groups object stores.
type StorageConfig struct {
	MinIO MinIOConfig `mapstructure:"minio"`
}

// LoggingConfig holds structured-logging parameters.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | console
	Output string `mapstructure:"output"` // stdout | stderr | file path
}

// PrometheusConfig holds the metrics endpoint parameters.
type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// MonitoringConfig groups observability settings.
type MonitoringConfig struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration shared by cmd/mmp, cmd/apiserver and
// cmd/worker.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MMP        MMPConfig        `mapstructure:"mmp"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Messaging  MessagingConfig  `mapstructure:"messaging"`
	Search     SearchConfig     `mapstructure:"search"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// Sink names accepted in sinks.enabled.
const (
	SinkCSV        = "csv"
	SinkPostgres   = "postgres"
	SinkKafka      = "kafka"
	SinkNeo4j      = "neo4j"
	SinkOpenSearch = "opensearch"
	SinkMinIO      = "minio"
)

// SinkEnabled reports whether name is listed in sinks.enabled.
func (c *Config) SinkEnabled(name string) bool {
	for _, s := range c.Sinks.Enabled {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks the populated Config and returns the first problem found.
// Backends are only checked when a sink or the cache needs them.
func (c *Config) Validate() error {
	if c.Server.HTTP.Port < 1 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("server.http.port %d is out of range [1, 65535]", c.Server.HTTP.Port)
	}

	if g := c.Server.GRPC.Port; g < 0 || g > 65535 {
		return fmt.Errorf("server.grpc.port %d is out of range [0, 65535]", g)
	}
	if c.Server.HTTP.RateLimit < 0 {
		return fmt.Errorf("server.http.rate_limit must be ≥ 0")
	}
	if raw := c.Server.HTTP.JWKSURL; raw != "" {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server.http.jwks_url %q must be an http(s) URL", raw)
		}
	}

	if c.MMP.MaxCuts < 1 || c.MMP.MaxCuts > 3 {
		return fmt.Errorf("mmp.max_cuts must be 1, 2 or 3, got %d", c.MMP.MaxCuts)
	}
	if c.MMP.MaxCutBonds < 0 {
		return fmt.Errorf("mmp.max_cut_bonds must be ≥ 0, got %d", c.MMP.MaxCutBonds)
	}
	if c.MMP.Workers < 1 {
		return fmt.Errorf("mmp.workers must be ≥ 1, got %d", c.MMP.Workers)
	}
	if c.MMP.MoleculeTimeout < 0 {
		return fmt.Errorf("mmp.molecule_timeout must not be negative")
	}

	for _, s := range c.Sinks.Enabled {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case SinkCSV, SinkPostgres, SinkKafka, SinkNeo4j, SinkOpenSearch, SinkMinIO:
		default:
			return fmt.Errorf("sinks.enabled: unknown sink %q", s)
		}
	}

	if c.SinkEnabled(SinkPostgres) {
		pg := c.Database.Postgres
		if pg.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if pg.Port < 1 || pg.Port > 65535 {
			return fmt.Errorf("database.postgres.port %d is out of range [1, 65535]", pg.Port)
		}
		if pg.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
		if pg.DBName == "" {
			return fmt.Errorf("database.postgres.dbname is required")
		}
	}
	if c.SinkEnabled(SinkNeo4j) && c.Database.Neo4j.URI == "" {
		return fmt.Errorf("database.neo4j.uri is required")
	}
	if c.SinkEnabled(SinkKafka) && len(c.Messaging.Kafka.Brokers) == 0 {
		return fmt.Errorf("messaging.kafka.brokers must contain at least one broker address")
	}
	if c.SinkEnabled(SinkOpenSearch) && len(c.Search.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("search.opensearch.addresses must contain at least one address")
	}
	if c.SinkEnabled(SinkMinIO) {
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint is required")
		}
		if c.Storage.MinIO.BucketName == "" {
			return fmt.Errorf("storage.minio.bucket_name is required")
		}
	}
	if c.MMP.CacheEnabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when mmp.cache_enabled is set")
	}
	if c.Cache.Redis.DB < 0 {
		return fmt.Errorf("cache.redis.db must be ≥ 0, got %d", c.Cache.Redis.DB)
	}

	switch c.Monitoring.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitoring.logging.level %q is invalid; expected debug|info|warn|error", c.Monitoring.Logging.Level)
	}
	switch c.Monitoring.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("monitoring.logging.format %q is invalid; expected json|console", c.Monitoring.Logging.Format)
	}
	return nil
}

// PostgresDSN renders the connection URL used by pgx and golang-migrate.
// Credentials are escaped; sslmode defaults to disable.
func (p PostgresConfig) PostgresDSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}
