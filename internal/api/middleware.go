package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulseapp/engage/internal/api/respond"
	"github.com/pulseapp/engage/internal/config"
)

// ProcessTime stamps responses with an X-Process-Time header in
// milliseconds.
func ProcessTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		ms := float64(time.Since(start).Microseconds()) / 1000.0
		w.Header().Set("X-Process-Time", strconv.FormatFloat(ms, 'f', 2, 64)+"ms")
	})
}

// --------------------------------------------------------------------------
// Per-IP request throttling
//
// Bounds abusive trigger callers. Unrelated to the engine's per-user
// notification ceilings, which live in internal/engine.
// --------------------------------------------------------------------------

const (
	// Idle buckets older than this are dropped once the client map grows
	// past throttlePruneAt.
	throttleIdleEvict = 10 * time.Minute
	throttlePruneAt   = 1024
)

// throttled is one caller's token bucket and last-use timestamp.
type throttled struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// throttler hands out per-IP token buckets sized from the API rate limit
// config: the configured request budget refills over the window, with
// burst capacity of half a window.
type throttler struct {
	mu      sync.Mutex
	clients map[string]*throttled
	limit   rate.Limit
	burst   int
}

func newThrottler(requests int, window time.Duration) *throttler {
	return &throttler{
		clients: make(map[string]*throttled),
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   max(requests/2, 1),
	}
}

func (t *throttler) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[ip]
	if !ok {
		c = &throttled{bucket: rate.NewLimiter(t.limit, t.burst)}
		t.clients[ip] = c
	}
	c.lastSeen = time.Now()

	if len(t.clients) > throttlePruneAt {
		t.prune()
	}
	return c.bucket.Allow()
}

// prune drops buckets idle past the eviction horizon. Caller holds t.mu.
func (t *throttler) prune() {
	cutoff := time.Now().Add(-throttleIdleEvict)
	for ip, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, ip)
		}
	}
}

// Throttle returns middleware rejecting callers over the per-IP request
// budget with 429.
func Throttle(cfg *config.Config) func(http.Handler) http.Handler {
	t := newThrottler(cfg.RateLimitRequests, cfg.RateLimitWindow)
	retryAfter := strconv.Itoa(int(cfg.RateLimitWindow.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.allow(clientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				respond.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
