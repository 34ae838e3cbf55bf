package server

import (
	"errors"
	"fmt"

	"github.com/dgellow/gh-oauth-relay/internal/backend"
	"github.com/dgellow/gh-oauth-relay/internal/github"
)

// failureCause is the internal reason a callback failed. It is logged and
// recorded on the trace, never shown to the browser.
type failureCause string

const (
	causeMissingCode    failureCause = "missing_code"
	causeProviderDenied failureCause = "provider_denied"
	causeInvalidState   failureCause = "invalid_state"
	causeTokenExchange  failureCause = "token_exchange"
	causeProfileFetch   failureCause = "profile_fetch"
	causeMissingEmail   failureCause = "missing_email"
	causeBackendHandoff failureCause = "backend_handoff"
	causeInvalidSession failureCause = "invalid_session"
	causeInternal       failureCause = "internal"
)

// codeGitHubOAuthFailed is the only code the login page ever receives.
const codeGitHubOAuthFailed = "github_oauth_failed"

// publicErrorCodes maps internal causes to the code put in ?error=.
var publicErrorCodes = map[failureCause]string{
	causeMissingCode:    codeGitHubOAuthFailed,
	causeProviderDenied: codeGitHubOAuthFailed,
	causeInvalidState:   codeGitHubOAuthFailed,
	causeTokenExchange:  codeGitHubOAuthFailed,
	causeProfileFetch:   codeGitHubOAuthFailed,
	causeMissingEmail:   codeGitHubOAuthFailed,
	causeBackendHandoff: codeGitHubOAuthFailed,
	causeInvalidSession: codeGitHubOAuthFailed,
	causeInternal:       codeGitHubOAuthFailed,
}

func publicErrorCode(cause failureCause) string {
	if code, ok := publicErrorCodes[cause]; ok {
		return code
	}
	return codeGitHubOAuthFailed
}

// stageCauses is the default cause for a failure at each stage.
var stageCauses = map[Stage]failureCause{
	StageVerifyingState: causeInvalidState,
	StageExchanging:     causeTokenExchange,
	StageProfiling:      causeProfileFetch,
	StageResolvingEmail: causeMissingEmail,
	StageAuthenticating: causeBackendHandoff,
	StageSessionSet:     causeInvalidSession,
}

// classify picks the cause for err raised during stage.
func classify(stage Stage, err error) failureCause {
	switch {
	case errors.Is(err, backend.ErrMissingAccessToken):
		return causeInvalidSession
	case errors.Is(err, github.ErrNoPrimaryEmail):
		return causeMissingEmail
	}
	if cause, ok := stageCauses[stage]; ok {
		return cause
	}
	return causeInternal
}

// flowError records where a callback stopped and why.
type flowError struct {
	stage Stage
	cause failureCause
	err   error
}

func (e *flowError) Error() string {
	return fmt.Sprintf("callback failed at %s (%s): %v", e.stage, e.cause, e.err)
}

func (e *flowError) Unwrap() error {
	return e.err
}

// asFlowError returns the flowError inside err. Anything else is reported as
// an internal failure rather than blamed on a stage.
func asFlowError(err error) *flowError {
	var fe *flowError
	if errors.As(err, &fe) {
		return fe
	}
	return &flowError{stage: StageFailed, cause: causeInternal, err: err}
}

