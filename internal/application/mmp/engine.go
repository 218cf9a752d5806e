package mmp

import (
	"github.com/turtacn/KeyIP-MMP/internal/config"
	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// EngineDeps are the optional collaborators of BuildEngine.
type EngineDeps struct {
	Cache   redis.Cache // nil disables result caching
	Metrics *prometheus.MMPMetrics
	Logger  logging.Logger
}

// BuildEngine returns the fragmenter for maxCuts configured from the mmp
// section, behind the result cache when caching is enabled and a cache is
// given.
func BuildEngine(cfg config.MMPConfig, maxCuts int, deps EngineDeps) Engine {
	f := fragment.NewFragmenter(molecule.NewProvider(), molecule.NewMatcher(),
		fragment.WithMaxCuts(maxCuts),
		fragment.WithMaxCandidates(cfg.MaxCutBonds),
		fragment.WithParallelism(cfg.CombinationParallelism),
		fragment.WithLogger(deps.Logger),
	)
	if !cfg.CacheEnabled || deps.Cache == nil {
		return f
	}
	return NewCachedFragmenter(f, deps.Cache, cfg.CacheTTL, f.MaxCuts(), cfg.MaxCutBonds, deps.Metrics, deps.Logger)
}

// ServiceSet holds one Service per cut depth so callers can ask for fewer
// cuts than configured.
type ServiceSet struct {
	services []*Service // index = max cuts
}

// NewServiceSet builds services for cut depths 1..cfg.MaxCuts.
func NewServiceSet(cfg config.MMPConfig, deps EngineDeps) *ServiceSet {
	depth := cfg.MaxCuts
	if depth < 1 || depth > fragment.DefaultMaxCuts {
		depth = fragment.DefaultMaxCuts
	}
	set := &ServiceSet{services: make([]*Service, depth+1)}
	for k := 1; k <= depth; k++ {
		set.services[k] = NewService(BuildEngine(cfg, k, deps), ServiceConfigFrom(cfg), deps.Metrics, deps.Logger)
	}
	return set
}

// MaxCuts is the deepest cut set available.
func (s *ServiceSet) MaxCuts() int { return len(s.services) - 1 }

// For returns the service enumerating up to maxCuts bonds; 0 selects the
// deepest.
func (s *ServiceSet) For(maxCuts int) (*Service, error) {
	if maxCuts == 0 {
		return s.services[s.MaxCuts()], nil
	}
	if maxCuts < 1 || maxCuts > s.MaxCuts() {
		return nil, errors.Newf(errors.ErrCodeValidation, "max_cuts must be between 1 and %d", s.MaxCuts())
	}
	return s.services[maxCuts], nil
}
