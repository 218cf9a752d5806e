// Package platform opens the backing services named by the configuration
// and hands them to the binaries as ready-to-use repositories.
package platform

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/neo4j/repositories"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/postgres"
	pgrepo "github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/search/opensearch"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-MMP/internal/interfaces/http/handlers"
)

// Needs selects the backends Open connects to.
type Needs struct {
	Postgres   bool
	Neo4j      bool
	Redis      bool
	Kafka      bool
	OpenSearch bool
	MinIO      bool
}

// Or merges two sets of needs.
func (n Needs) Or(m Needs) Needs {
	return Needs{
		Postgres:   n.Postgres || m.Postgres,
		Neo4j:      n.Neo4j || m.Neo4j,
		Redis:      n.Redis || m.Redis,
		Kafka:      n.Kafka || m.Kafka,
		OpenSearch: n.OpenSearch || m.OpenSearch,
		MinIO:      n.MinIO || m.MinIO,
	}
}

// SinkNeeds lists the backends required by sinks.enabled and the result
// cache.
func SinkNeeds(cfg *config.Config) Needs {
	return Needs{
		Postgres:   cfg.SinkEnabled(config.SinkPostgres),
		Neo4j:      cfg.SinkEnabled(config.SinkNeo4j),
		Redis:      cfg.MMP.CacheEnabled,
		Kafka:      cfg.SinkEnabled(config.SinkKafka),
		OpenSearch: cfg.SinkEnabled(config.SinkOpenSearch),
		MinIO:      cfg.SinkEnabled(config.SinkMinIO),
	}
}

// ConfiguredNeeds lists the backends whose address is set, for read paths
// that use a store whenever one exists.
func ConfiguredNeeds(cfg *config.Config) Needs {
	return Needs{
		Postgres:   cfg.Database.Postgres.Host != "",
		Neo4j:      cfg.Database.Neo4j.URI != "",
		OpenSearch: len(cfg.Search.OpenSearch.Addresses) > 0,
		MinIO:      cfg.Storage.MinIO.Endpoint != "",
	}
}

// Backends holds the opened services.  Members for unneeded backends are
// nil.
type Backends struct {
	Pool      *pgxpool.Pool
	Fragments *pgrepo.FragmentRepo

	Neo4j *neo4j.Driver
	Graph *neo4jrepo.PairGraphRepo

	Redis *redis.Client
	Cache redis.Cache

	Producer *kafka.Producer

	OpenSearch *opensearch.Client
	Indexer    *opensearch.Indexer
	Searcher   *opensearch.Searcher

	MinIO   *minio.MinIOClient
	Archive minio.ArchiveRepository

	closers []func() error
	logger  logging.Logger
}

// Open connects every needed backend, applies Postgres migrations and
// prepares the Neo4j schema, the search index, the bucket and, when
// configured, the Kafka topics.  On failure the backends opened so far are
// closed.
func Open(ctx context.Context, cfg *config.Config, needs Needs, logger logging.Logger) (_ *Backends, err error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	b := &Backends{logger: logger.Named("platform")}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
		}
	}()

	if needs.Postgres {
		if err = b.openPostgres(ctx, cfg.Database.Postgres, logger); err != nil {
			return nil, err
		}
	}
	if needs.Neo4j {
		if err = b.openNeo4j(ctx, cfg.Database.Neo4j, logger); err != nil {
			return nil, err
		}
	}
	if needs.Redis {
		client, rerr := redis.NewClient(redis.RedisConfigFrom(cfg.Cache.Redis), logger)
		if rerr != nil {
			return nil, rerr
		}
		b.Redis = client
		b.closers = append(b.closers, client.Close)
		b.Cache = redis.NewRedisCache(client, logger,
			redis.WithPrefix(cfg.Cache.Redis.KeyPrefix),
			redis.WithDefaultTTL(cfg.MMP.CacheTTL))
	}
	if needs.Kafka {
		if err = b.openKafka(ctx, cfg.Messaging.Kafka, logger); err != nil {
			return nil, err
		}
	}
	if needs.OpenSearch {
		if err = b.openOpenSearch(ctx, cfg.Search.OpenSearch, logger); err != nil {
			return nil, err
		}
	}
	if needs.MinIO {
		client, merr := minio.NewMinIOClient(minio.MinIOConfigFrom(cfg.Storage.MinIO), logger)
		if merr != nil {
			return nil, merr
		}
		b.MinIO = client
		b.closers = append(b.closers, client.Close)
		if err = client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		b.Archive = minio.NewArchiveRepository(client, logger)
	}

	b.logger.Info("backends ready",
		logging.Bool("postgres", needs.Postgres),
		logging.Bool("neo4j", needs.Neo4j),
		logging.Bool("redis", needs.Redis),
		logging.Bool("kafka", needs.Kafka),
		logging.Bool("opensearch", needs.OpenSearch),
		logging.Bool("minio", needs.MinIO))
	return b, nil
}

func (b *Backends) openPostgres(ctx context.Context, cfg config.PostgresConfig, logger logging.Logger) error {
	pool, err := postgres.NewConnectionPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	b.Pool = pool
	b.closers = append(b.closers, func() error { pool.Close(); return nil })

	if err := postgres.NewMigrator(pool, cfg.MigrationPath, logger).Up(); err != nil {
		return err
	}
	b.Fragments = pgrepo.NewFragmentRepo(pool, logger)
	return nil
}

func (b *Backends) openNeo4j(ctx context.Context, cfg config.Neo4jConfig, logger logging.Logger) error {
	drv, err := neo4j.NewDriver(cfg, logger)
	if err != nil {
		return err
	}
	b.Neo4j = drv
	b.closers = append(b.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return drv.Close(ctx)
	})
	b.Graph = neo4jrepo.NewPairGraphRepo(drv, logger)
	return b.Graph.EnsureSchema(ctx)
}

func (b *Backends) openKafka(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) error {
	if cfg.AutoCreateTopics {
		tm, err := kafka.NewTopicManager(cfg.Brokers, logger)
		if err != nil {
			return err
		}
		err = tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.NumPartitions, cfg.ReplicationFactor))
		err = multierr.Append(err, tm.Close())
		if err != nil {
			return err
		}
	}
	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg), logger)
	if err != nil {
		return err
	}
	b.Producer = producer
	b.closers = append(b.closers, producer.Close)
	return nil
}

func (b *Backends) openOpenSearch(ctx context.Context, cfg config.OpenSearchConfig, logger logging.Logger) error {
	client, err := opensearch.NewClient(opensearch.ClientConfigFrom(cfg), logger)
	if err != nil {
		return err
	}
	b.OpenSearch = client
	b.closers = append(b.closers, client.Close)

	b.Indexer = opensearch.NewIndexer(client, opensearch.IndexerConfig{Index: cfg.Index, BulkBatchSize: cfg.BulkBatchSize}, logger)
	if err := b.Indexer.EnsureIndex(ctx); err != nil {
		return err
	}
	b.Searcher = opensearch.NewSearcher(client, opensearch.SearcherConfig{Index: cfg.Index}, logger)
	return nil
}

// Close releases the backends in reverse opening order.
func (b *Backends) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	b.closers = nil
	return err
}

// EngineDeps returns the engine collaborators backed by b.
func (b *Backends) EngineDeps(metrics *prometheus.MMPMetrics, logger logging.Logger) mmp.EngineDeps {
	deps := mmp.EngineDeps{Metrics: metrics, Logger: logger}
	if b.Cache != nil {
		deps.Cache = b.Cache
	}
	return deps
}

// SinkDeps returns the sink backends of b.  Nil repositories stay nil
// interfaces so BuildSink can tell them apart.
func (b *Backends) SinkDeps(metrics *prometheus.MMPMetrics) mmp.SinkDeps {
	deps := mmp.SinkDeps{Metrics: metrics}
	if b.Fragments != nil {
		deps.Records = b.Fragments
	}
	if b.Graph != nil {
		deps.Graph = b.Graph
	}
	if b.Indexer != nil {
		deps.Search = b.Indexer
	}
	if b.Producer != nil {
		deps.Events = b.Producer
	}
	if b.Archive != nil {
		deps.Archive = b.Archive
	}
	return deps
}

// HealthCheckers returns a readiness check per opened backend.
func (b *Backends) HealthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if b.Pool != nil {
		pool := b.Pool
		checks = append(checks, handlers.NamedCheck("postgres", func(ctx context.Context) error { return postgres.HealthCheck(ctx, pool) }))
	}
	if b.Neo4j != nil {
		checks = append(checks, handlers.NamedCheck("neo4j", b.Neo4j.HealthCheck))
	}
	if b.Redis != nil {
		checks = append(checks, handlers.NamedCheck("redis", b.Redis.Ping))
	}
	if b.OpenSearch != nil {
		checks = append(checks, handlers.NamedCheck("opensearch", b.OpenSearch.Ping))
	}
	if b.MinIO != nil {
		client := b.MinIO
		checks = append(checks, handlers.NamedCheck("minio", func(ctx context.Context) error {
			_, err := client.HealthCheck(ctx)
			return err
		}))
	}
	return checks
}
