package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc extracts the client key; nil uses the remote host.
	KeyFunc func(r *http.Request) string
	// IdleTTL drops limiters of clients idle for longer.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket per client.
type RateLimitMiddleware struct {
	config  RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewRateLimitMiddleware creates a RateLimitMiddleware.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = remoteHost
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimitMiddleware{config: cfg, clients: make(map[string]*clientLimiter), now: time.Now}
}

// remoteHost strips the port from RemoteAddr.  chi's RealIP middleware has
// already replaced it with the forwarded address when one is present.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (m *RateLimitMiddleware) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cl, ok := m.clients[key]
	if !ok {
		m.evictIdle(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize)}
		m.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// evictIdle runs on insertion so the map stays bounded by active clients.
func (m *RateLimitMiddleware) evictIdle(now time.Time) {
	for k, cl := range m.clients {
		if now.Sub(cl.lastSeen) > m.config.IdleTTL {
			delete(m.clients, k)
		}
	}
}

// Handler answers 429 with Retry-After once a client exceeds its rate.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := m.limiter(m.config.KeyFunc(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.config.BurstSize))

		res := l.ReserveN(m.now(), 1)
		if delay := res.DelayFrom(m.now()); delay > 0 {
			res.CancelAt(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeError(w, errors.ErrCodeTooManyRequests, "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(l.TokensAt(m.now()))))
		next.ServeHTTP(w, r)
	})
}
