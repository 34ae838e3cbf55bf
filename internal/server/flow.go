package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/backend"
	"github.com/dgellow/gh-oauth-relay/internal/config"
	"github.com/dgellow/gh-oauth-relay/internal/emailutil"
	"github.com/dgellow/gh-oauth-relay/internal/github"
	"github.com/dgellow/gh-oauth-relay/internal/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// Stage is a step of the callback state machine.
type Stage string

const (
	StageStart          Stage = "start"
	StageVerifyingState Stage = "verifying_state"
	StageExchanging     Stage = "exchanging"
	StageProfiling      Stage = "profiling"
	StageResolvingEmail Stage = "resolving_email"
	StageAuthenticating Stage = "authenticating"
	StageSessionSet     Stage = "session_set"
	StageRedirected     Stage = "redirected"
	StageFailed         Stage = "failed"
)

// Span attribute keys. Tokens and codes are never recorded.
const (
	attrStage        = attribute.Key("oauth.stage")
	attrCause        = attribute.Key("oauth.failure_cause")
	attrStateStore   = attribute.Key("oauth.state_store")
	attrGitHubID     = attribute.Key("github.user_id")
	attrGitHubLogin  = attribute.Key("github.login")
	attrEmailSource  = attribute.Key("github.email_source")
	attrEmailVerify  = attribute.Key("github.email_verified")
	attrMasterModer  = attribute.Key("auth.master_moderator")
	attrBackendRole  = attribute.Key("backend.user_role")
	attrModerator    = attribute.Key("backend.can_access_moderator")
	attrCabinet      = attribute.Key("backend.cabinet_access_enabled")
	attrRedirectPath = attribute.Key("http.redirect_path")
)

var errInvalidEmail = errors.New("resolved email is not a valid address")

// runStage runs fn inside a child span named after stage. A failure is
// classified and returned as a *flowError.
func (h *AuthHandlers) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := h.tracer.Start(ctx, "callback."+string(stage), trace.WithAttributes(attrStage.String(string(stage))))
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		cause := classify(stage, err)
		span.RecordError(err)
		span.SetAttributes(attrCause.String(string(cause)))
		span.SetStatus(codes.Error, string(cause))
		return &flowError{stage: stage, cause: cause, err: err}
	}

	span.SetStatus(codes.Ok, "")
	log.LogTraceWithFields("callback", "Stage completed", map[string]any{
		"stage":       string(stage),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// runCallback drives the stages from state verification to the session
// cookie. Each stage runs at most once, and the first failure stops the flow.
func (h *AuthHandlers) runCallback(ctx context.Context, w http.ResponseWriter, code, state, redirectURI string) (*github.Identity, error) {
	var (
		token    *oauth2.Token
		identity *github.Identity
		session  *backend.Session
	)

	err := h.runStage(ctx, StageVerifyingState, func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attrStateStore.String(h.states.Kind()))
		return h.states.Verify(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	err = h.runStage(ctx, StageExchanging, func(ctx context.Context) error {
		var err error
		token, err = h.github.ExchangeCode(ctx, code, redirectURI)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = h.runStage(ctx, StageProfiling, func(ctx context.Context) error {
		var err error
		identity, err = h.github.FetchUser(ctx, token)
		if err != nil {
			return err
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attrGitHubID.Int64(identity.ID),
			attrGitHubLogin.String(identity.Login),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = h.runStage(ctx, StageResolvingEmail, func(ctx context.Context) error {
		return h.resolveEmail(ctx, token, identity)
	})
	if err != nil {
		return nil, err
	}

	err = h.runStage(ctx, StageAuthenticating, func(ctx context.Context) error {
		var err error
		session, err = h.backend.AuthenticateGitHub(ctx, backend.Handoff{
			AccessToken: token.AccessToken,
			Email:       identity.Email,
			GitHubID:    identity.ID,
			Username:    identity.Login,
		})
		if err != nil {
			return err
		}
		if session.User != nil {
			trace.SpanFromContext(ctx).SetAttributes(
				attrBackendRole.String(session.User.Role),
				attrModerator.Bool(session.User.CanAccessModerator),
				attrCabinet.Bool(session.User.CabinetAccessEnabled),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = h.runStage(ctx, StageSessionSet, func(ctx context.Context) error {
		if session.AccessToken == "" {
			return backend.ErrMissingAccessToken
		}
		h.jar.SetSession(w, session.AccessToken, config.SessionMaxAge)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// resolveEmail fills identity.Email from the primary address when the profile
// has none, then normalizes and checks its shape.
func (h *AuthHandlers) resolveEmail(ctx context.Context, token *oauth2.Token, identity *github.Identity) error {
	span := trace.SpanFromContext(ctx)

	if identity.Email == "" {
		email, verified, err := h.github.FetchPrimaryEmail(ctx, token)
		if err != nil {
			return err
		}
		identity.Email = email
		identity.EmailVerified = verified
		span.SetAttributes(attrEmailSource.String("emails_api"))
	} else {
		span.SetAttributes(attrEmailSource.String("profile"))
	}
	span.SetAttributes(attrEmailVerify.Bool(identity.EmailVerified))

	identity.Email = emailutil.Normalize(identity.Email)
	if !emailutil.IsValid(identity.Email) {
		return fmt.Errorf("%w: %q", errInvalidEmail, identity.Email)
	}

	if emailutil.Same(identity.Email, h.cfg.MasterModeratorEmail) {
		span.SetAttributes(attrMasterModer.Bool(true))
		log.LogInfoWithFields("callback", "Master moderator signing in", map[string]any{
			"login": identity.Login,
		})
	}
	return nil
}
