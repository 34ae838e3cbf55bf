package server

import (
	"net/http"

	"github.com/dgellow/gh-oauth-relay/internal/config"
)

// NewRouter mounts the relay's routes. The OAuth, logout and status routes
// share one per-IP limiter; health checks are never limited.
func NewRouter(cfg config.Config, auth *AuthHandlers) http.Handler {
	mux := http.NewServeMux()

	var limited []MiddlewareFunc
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limited = append(limited, NewRateLimiter(cfg.RateLimit).Middleware())
	}
	route := func(h http.HandlerFunc, methods ...string) http.Handler {
		return ChainMiddleware(h, append(limited, NewMethodMiddleware(methods...))...)
	}

	mux.Handle("/authorize", route(auth.AuthorizeHandler, http.MethodGet))
	mux.Handle(cfg.Paths.Callback, route(auth.CallbackHandler, http.MethodGet))
	mux.Handle("/logout", route(auth.LogoutHandler, http.MethodPost))
	mux.Handle("/status", route(auth.StatusHandler, http.MethodGet))
	mux.Handle("/health", ChainMiddleware(NewHealthHandler(), NewMethodMiddleware(http.MethodGet, http.MethodHead)))

	return ChainMiddleware(mux,
		NewSecurityHeadersMiddleware(),
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}
