package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/turtacn/KeyIP-MMP/internal/config"
)

func TestConfigurePool(t *testing.T) {
	t.Parallel()

	t.Run("applies custom settings", func(t *testing.T) {
		cfg := config.PostgresConfig{
			MaxConns:        50,
			MinConns:        10,
			ConnMaxLifetime: 2 * time.Hour,
			ConnMaxIdleTime: 45 * time.Minute,
		}
		poolCfg := &pgxpool.Config{}
		configurePool(poolCfg, cfg)

		assert.Equal(t, int32(50), poolCfg.MaxConns)
		assert.Equal(t, int32(10), poolCfg.MinConns)
		assert.Equal(t, 2*time.Hour, poolCfg.MaxConnLifetime)
		assert.Equal(t, 45*time.Minute, poolCfg.MaxConnIdleTime)
	})

	t.Run("keeps parsed values for zero settings", func(t *testing.T) {
		poolCfg := &pgxpool.Config{MaxConns: 25, MaxConnLifetime: time.Hour}
		configurePool(poolCfg, config.PostgresConfig{})
		assert.Equal(t, int32(25), poolCfg.MaxConns)
		assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
	})
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir("migrations")
	assert.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_fragment_records.up.sql")
	assert.Contains(t, names, "000001_create_fragment_records.down.sql")
	assert.Contains(t, names, "000002_create_fragment_failures.up.sql")
	assert.Len(t, names, 4)
}
