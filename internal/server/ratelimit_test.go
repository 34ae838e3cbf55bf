package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgellow/gh-oauth-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})

	for i := range 3 {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, MaxClients: 2})

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("a"))

	require.True(t, rl.Allow("c"))
	assert.Equal(t, 2, rl.Len())

	// b was least recently used, so it comes back with a fresh bucket.
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		forwarded  string
		expected   string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:4321", expected: "192.0.2.1"},
		{name: "forwarded ignored by default", remoteAddr: "192.0.2.1:4321", forwarded: "203.0.113.9", expected: "192.0.2.1"},
		{name: "forwarded trusted", trustProxy: true, remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.1", expected: "203.0.113.9"},
		{name: "trusted without header", trustProxy: true, remoteAddr: "10.0.0.1:80", expected: "10.0.0.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.7", expected: "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, TrustProxy: tt.trustProxy})
			req := httptest.NewRequest(http.MethodGet, "/authorize", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.expected, rl.clientIP(req))
		})
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	captureLogs(t)
	h := newHarness(t, nil, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})

	for i := range 2 {
		w := h.serve(httptest.NewRequest(http.MethodGet, "/authorize", nil))
		require.Equal(t, http.StatusFound, w.Code, fmt.Sprintf("request %d", i))
	}

	w := h.serve(httptest.NewRequest(http.MethodGet, "/authorize", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"error":"rate_limited"`)

	health := h.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
