package mmp

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/prometheus"
)

// cacheKeyVersion changes whenever the record format changes.
const cacheKeyVersion = "v1"

var cacheNamespace = uuid.MustParse("0b8d5f0e-3c51-4b7a-8f3e-9d2a4c6e1f70")

// CachedFragmenter serves results from a cache keyed by the input text, the
// compound id and the engine bounds.  Failed molecules are not cached.
type CachedFragmenter struct {
	engine  Engine
	cache   redis.Cache
	ttl     time.Duration
	bounds  string
	metrics *prometheus.MMPMetrics
	logger  logging.Logger

	hits, misses atomic.Int64
}

// NewCachedFragmenter wraps engine.  maxCuts and maxCandidates must match
// the engine's settings so that differently bounded engines never share
// entries.
func NewCachedFragmenter(engine Engine, cache redis.Cache, ttl time.Duration, maxCuts, maxCandidates int, metrics *prometheus.MMPMetrics, logger logging.Logger) *CachedFragmenter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CachedFragmenter{
		engine:  engine,
		cache:   cache,
		ttl:     ttl,
		bounds:  strconv.Itoa(maxCuts) + "/" + strconv.Itoa(maxCandidates),
		metrics: metrics,
		logger:  logger.Named("fragment_cache"),
	}
}

// Key is the cache key of m.
func (c *CachedFragmenter) Key(m fragment.Molecule) string {
	id := uuid.NewSHA1(cacheNamespace, []byte(cacheKeyVersion+"\x00"+c.bounds+"\x00"+m.CompoundID+"\x00"+m.Text))
	return "fragments:" + id.String()
}

// Fragment implements Engine.
func (c *CachedFragmenter) Fragment(ctx context.Context, m fragment.Molecule) (*fragment.Result, error) {
	var (
		res    fragment.Result
		loaded bool
	)
	err := c.cache.GetOrSet(ctx, c.Key(m), &res, c.ttl, func(ctx context.Context) (interface{}, error) {
		loaded = true
		return c.engine.Fragment(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	if loaded {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	prometheus.RecordCacheAccess(c.metrics, "fragments", !loaded)
	return &res, nil
}

// Stats returns the hit and miss counts since construction.
func (c *CachedFragmenter) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
