//go:build integration

package platform_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/KeyIP-MMP/internal/application/mmp"
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/platform"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return host, mapped.Int()
}

// Runs a batch through the Postgres sink with the Redis result cache and
// reads the pairs back.
func TestPipeline_PostgresAndRedis(t *testing.T) {
	pgHost, pgPort := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env:          map[string]string{"POSTGRES_USER": "test", "POSTGRES_PASSWORD": "test", "POSTGRES_DB": "mmp_test"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432")
	redisHost, redisPort := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")

	cfg, err := config.Load(config.WithOverrides(map[string]interface{}{
		"sinks.enabled":              []string{config.SinkPostgres},
		"database.postgres.host":     pgHost,
		"database.postgres.port":     pgPort,
		"database.postgres.user":     "test",
		"database.postgres.password": "test",
		"database.postgres.dbname":   "mmp_test",
		"mmp.cache_enabled":          true,
		"cache.redis.addr":           fmt.Sprintf("%s:%d", redisHost, redisPort),
	}))
	require.NoError(t, err)

	ctx := context.Background()
	b, err := platform.Open(ctx, cfg, platform.SinkNeeds(cfg), nil)
	require.NoError(t, err)
	defer b.Close()
	require.NotNil(t, b.Fragments)
	require.NotNil(t, b.Cache)
	for _, c := range b.HealthCheckers() {
		assert.NoError(t, c.Check(ctx), c.Name())
	}

	set := mmp.NewServiceSet(cfg.MMP, b.EngineDeps(nil, nil))
	svc, err := set.For(1)
	require.NoError(t, err)

	molecules := []fragment.Molecule{
		{Text: "CCOCC", CompoundID: "diethyl_ether"},
		{Text: "CCOC", CompoundID: "methyl_ethyl_ether"},
	}
	// The second pass is served from the cache and replaces the first run's
	// rows instead of duplicating them.
	runID := uuid.New()
	var stored int64
	for i := 0; i < 2; i++ {
		sink, err := mmp.BuildSink(cfg, b.SinkDeps(nil), "it")
		require.NoError(t, err)
		sum, err := svc.Run(ctx, molecules, sink, mmp.WithRunID(runID))
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Molecules)
		assert.Zero(t, sum.Failed)

		n, err := b.Fragments.CountRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, int64(sum.Records), n)
		if i == 1 {
			assert.Equal(t, stored, n)
		}
		stored = n
	}

	collect := &mmp.CollectingSink{}
	_, err = svc.Run(ctx, molecules, collect)
	require.NoError(t, err)
	require.NotEmpty(t, collect.Records)

	for _, rec := range collect.Records {
		pairs, err := b.Fragments.FindPairs(ctx, rec.Core, 0)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, p := range pairs {
			ids[p.CompoundID] = true
		}
		assert.True(t, ids[rec.CompoundID], "core %s: %v", rec.Core, pairs)
	}
}
