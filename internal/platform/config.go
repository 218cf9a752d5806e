package platform

import (
	"errors"

	"github.com/turtacn/KeyIP-MMP/internal/config"
)

// DefaultSearchPaths are tried, in order, when no config file is named.
var DefaultSearchPaths = []string{"configs", "."}

// LoadConfig reads path, or config.yaml from DefaultSearchPaths when path is
// empty, and applies overrides on top.  Without any file the defaults and
// MMP_* environment variables are used.
func LoadConfig(path string, overrides map[string]interface{}) (*config.Config, error) {
	if path != "" {
		return config.Load(config.WithConfigPath(path), config.WithOverrides(overrides))
	}
	cfg, err := config.Load(config.WithSearchPaths(DefaultSearchPaths...), config.WithOverrides(overrides))
	if errors.Is(err, config.ErrConfigFileNotFound) {
		return config.Load(config.WithOverrides(overrides))
	}
	return cfg, err
}
