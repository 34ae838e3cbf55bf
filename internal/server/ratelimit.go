package server

import (
	"container/list"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/dgellow/gh-oauth-relay/internal/config"
	jsonwriter "github.com/dgellow/gh-oauth-relay/internal/json"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	client  string
	limiter *rate.Limiter
}

// RateLimiter keeps a token bucket per client IP. The least recently seen
// client is evicted once maxClients is reached, which bounds memory.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxClients int
	trustProxy bool
	evictions  int64
}

// NewRateLimiter creates a limiter from cfg. Callers skip it entirely when
// RequestsPerSecond is zero.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = config.DefaultRateLimitMaxClients
	}
	return &RateLimiter{
		limiters:   make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(cfg.RequestsPerSecond),
		burst:      cfg.Burst,
		maxClients: maxClients,
		trustProxy: cfg.TrustProxy,
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[client]; ok {
		rl.lru.MoveToFront(elem)
		return elem.Value.(*limiterEntry).limiter.Allow()
	}

	if len(rl.limiters) >= rl.maxClients {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		client:  client,
		limiter: rate.NewLimiter(rl.limit, rl.burst),
	}
	rl.limiters[client] = rl.lru.PushFront(entry)
	return entry.limiter.Allow()
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.client)
	rl.lru.Remove(elem)
	rl.evictions++

	log.LogTraceWithFields("ratelimit", "Evicted least recently used client", map[string]any{
		"total_evictions": rl.evictions,
		"clients":         len(rl.limiters),
	})
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientIP keys requests by remote address, or by the leftmost
// X-Forwarded-For entry when the relay runs behind a trusted proxy.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.trustProxy {
		if fwd := firstHeaderValue(r.Header.Get("X-Forwarded-For")); fwd != "" {
			return fwd
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// Middleware answers 429 JSON once a client's burst is exhausted.
func (rl *RateLimiter) Middleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := rl.clientIP(r)
			if !rl.Allow(client) {
				log.LogWarnWithFields("ratelimit", "Rate limit exceeded", map[string]any{
					"client": client,
					"path":   r.URL.Path,
				})
				w.Header().Set("Retry-After", "1")
				jsonwriter.WriteTooManyRequests(w, "Too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
