package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/config"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPrometheusPath, cfg.Monitoring.Prometheus.Path)

	path := filepath.Join(t.TempDir(), "mmp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mmp:\n  max_cuts: 2\n"), 0o600))
	cfg, err = LoadConfig(path, map[string]interface{}{"server.http.port": 9393})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MMP.MaxCuts)
	assert.Equal(t, 9393, cfg.Server.HTTP.Port)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)
}
