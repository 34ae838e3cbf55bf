package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/backend"
	"github.com/dgellow/gh-oauth-relay/internal/config"
	"github.com/dgellow/gh-oauth-relay/internal/cookie"
	"github.com/dgellow/gh-oauth-relay/internal/emailutil"
	"github.com/dgellow/gh-oauth-relay/internal/github"
	jsonwriter "github.com/dgellow/gh-oauth-relay/internal/json"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"github.com/dgellow/gh-oauth-relay/internal/storage"
	"github.com/dgellow/gh-oauth-relay/internal/urlutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/dgellow/gh-oauth-relay/internal/server"

// GitHubClient is the subset of the GitHub client the handlers use.
type GitHubClient interface {
	Configured() bool
	AuthURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, token *oauth2.Token) (*github.Identity, error)
	FetchPrimaryEmail(ctx context.Context, token *oauth2.Token) (string, bool, error)
}

// Backend is the subset of the backend client the handlers use.
type Backend interface {
	AuthenticateGitHub(ctx context.Context, h backend.Handoff) (*backend.Session, error)
	Me(ctx context.Context, token string) (*backend.Status, error)
}

// AuthHandlers serves the browser-facing OAuth endpoints.
type AuthHandlers struct {
	cfg     config.Config
	github  GitHubClient
	backend Backend
	states  storage.StateStore
	jar     cookie.Jar
	tracer  trace.Tracer
}

// AuthOption customizes AuthHandlers.
type AuthOption func(*AuthHandlers)

// WithTracerProvider records callback spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) AuthOption {
	return func(h *AuthHandlers) {
		h.tracer = tp.Tracer(tracerName)
	}
}

// NewAuthHandlers creates the OAuth handlers.
func NewAuthHandlers(cfg config.Config, gh GitHubClient, be Backend, states storage.StateStore, opts ...AuthOption) *AuthHandlers {
	h := &AuthHandlers{
		cfg:     cfg,
		github:  gh,
		backend: be,
		states:  states,
		jar:     cookie.NewJar(cfg.Production),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AuthorizeHandler starts the flow by redirecting the browser to GitHub.
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if !h.github.Configured() {
		log.LogErrorWithFields("authorize", "GitHub OAuth is not configured", nil)
		jsonwriter.WriteError(w, http.StatusInternalServerError, "github_oauth_not_configured", "GitHub OAuth is not configured: GITHUB_CLIENT_ID is missing")
		return
	}

	state, err := h.states.Issue(r.Context())
	if err != nil {
		log.LogErrorWithFields("authorize", "Failed to issue state", map[string]any{
			"store": h.states.Kind(),
			"error": err.Error(),
		})
		jsonwriter.WriteError(w, http.StatusInternalServerError, "state_unavailable", "Failed to start GitHub login")
		return
	}

	redirectURI := h.authorizeOrigin(r) + h.cfg.Paths.Callback
	if h.cfg.PublicURL == "" {
		h.jar.SetRedirect(w, redirectURI, h.cfg.Paths.Callback, h.redirectTTL())
	}

	log.LogDebugWithFields("authorize", "Redirecting to GitHub", map[string]any{
		"redirect_uri": redirectURI,
		"store":        h.states.Kind(),
	})
	http.Redirect(w, r, h.github.AuthURL(state, redirectURI), http.StatusFound)
}

// authorizeOrigin picks the origin GitHub should send the browser back to.
// A configured public URL is authoritative because the callback cannot see
// the browser's Origin. Otherwise: Origin header, then Referer, then the dev
// origin.
func (h *AuthHandlers) authorizeOrigin(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL
	}
	if origin, err := urlutil.Origin(r.Header.Get("Origin")); err == nil {
		return origin
	}
	if origin, err := urlutil.Origin(r.Header.Get("Referer")); err == nil {
		return origin
	}
	return h.cfg.DevOrigin
}

func (h *AuthHandlers) redirectTTL() time.Duration {
	if h.cfg.State.TTL > 0 {
		return h.cfg.State.TTL
	}
	return config.DefaultStateTTL
}

// callbackRedirectURI repeats the redirect_uri sent on /authorize, which the
// token endpoint requires verbatim. The browser arrives from GitHub, so Origin
// and Referer are useless here. Without a public URL the value remembered by
// /authorize is used, then the request host, then the dev origin.
func (h *AuthHandlers) callbackRedirectURI(w http.ResponseWriter, r *http.Request) string {
	path := h.cfg.Paths.Callback
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL + path
	}
	if stored, err := cookie.GetRedirect(r); err == nil {
		h.jar.ClearRedirect(w, path)
		if origin, err := urlutil.Origin(stored); err == nil && origin+path == stored {
			return stored
		}
	}
	if origin := requestOrigin(r); origin != "" {
		return origin + path
	}
	return h.cfg.DevOrigin + path
}

// requestOrigin derives scheme://host from the request, honoring proxy headers.
func requestOrigin(r *http.Request) string {
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return ""
	}

	scheme := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}

	origin, err := urlutil.Origin(scheme + "://" + host)
	if err != nil {
		return ""
	}
	return origin
}

func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

// CallbackHandler completes the flow. Success sets the session cookie and
// redirects to the landing page. Every failure redirects to the login page
// with a generic error code and sets no cookie.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "callback")
	defer span.End()

	query := r.URL.Query()
	redirectURI := h.callbackRedirectURI(w, r)

	if providerErr := query.Get("error"); providerErr != "" {
		h.fail(w, r, span, &flowError{
			stage: StageStart,
			cause: causeProviderDenied,
			err:   fmt.Errorf("github returned %s: %s", providerErr, query.Get("error_description")),
		})
		return
	}

	code := query.Get("code")
	if code == "" {
		h.fail(w, r, span, &flowError{
			stage: StageStart,
			cause: causeMissingCode,
			err:   errors.New("callback without code"),
		})
		return
	}

	if h.cfg.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
		defer cancel()
	}

	identity, err := h.runCallback(ctx, w, code, query.Get("state"), redirectURI)
	if err != nil {
		h.fail(w, r, span, asFlowError(err))
		return
	}

	log.LogInfoWithFields("callback", "GitHub login completed", map[string]any{
		"github_id":    identity.Subject(),
		"login":        identity.Login,
		"email_domain": emailutil.ExtractDomain(identity.Email),
	})
	span.SetAttributes(attrStage.String(string(StageRedirected)), attrRedirectPath.String(h.cfg.Paths.Landing))
	span.SetStatus(codes.Ok, "")
	http.Redirect(w, r, h.cfg.Paths.Landing, http.StatusFound)
}

func (h *AuthHandlers) fail(w http.ResponseWriter, r *http.Request, span trace.Span, fe *flowError) {
	code := publicErrorCode(fe.cause)
	target := urlutil.WithQuery(h.cfg.Paths.Login, "error", code)

	log.LogErrorWithFields("callback", "GitHub login failed", map[string]any{
		"stage": string(fe.stage),
		"cause": string(fe.cause),
		"error": fe.err.Error(),
	})

	span.RecordError(fe.err)
	span.SetAttributes(
		attrStage.String(string(StageFailed)),
		attrCause.String(string(fe.cause)),
		attrRedirectPath.String(h.cfg.Paths.Login),
	)
	span.SetStatus(codes.Error, string(fe.cause))

	http.Redirect(w, r, target, http.StatusFound)
}

// LogoutHandler clears the session cookie. The backend token is stateless,
// so there is nothing to revoke upstream.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.jar.ClearSession(w)
	log.LogDebugWithFields("logout", "Session cookie cleared", nil)
	_ = jsonwriter.Write(w, map[string]string{"message": "Successfully logged out"})
}

type statusUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type statusResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *statusUser `json:"user"`
}

// StatusHandler reports whether the caller holds a valid session. Any problem
// reading or checking the token answers unauthenticated with 200.
func (h *AuthHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		_ = jsonwriter.Write(w, statusResponse{})
		return
	}

	ctx := r.Context()
	if h.cfg.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.UpstreamTimeout)
		defer cancel()
	}

	status, err := h.backend.Me(ctx, token)
	if err != nil {
		log.LogDebugWithFields("status", "Session check failed", map[string]any{
			"error": err.Error(),
		})
		_ = jsonwriter.Write(w, statusResponse{})
		return
	}
	if !status.Authenticated || status.User == nil {
		_ = jsonwriter.Write(w, statusResponse{})
		return
	}

	_ = jsonwriter.Write(w, statusResponse{
		Authenticated: true,
		User: &statusUser{
			Username: status.User.Username,
			Role:     status.User.Role,
		},
	})
}

// sessionToken reads the session cookie, falling back to a bearer header.
func sessionToken(r *http.Request) string {
	if token, err := cookie.GetSession(r); err == nil && token != "" {
		return token
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
