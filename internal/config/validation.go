package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/dgellow/gh-oauth-relay/internal/emailutil"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Error joins all errors so a failed result can be returned as an error.
func (v *ValidationResult) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		if e.Path != "" {
			msgs = append(msgs, e.Path+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// callbackPathPattern accepts plain segments only, so the path is a literal
// ServeMux pattern: no wildcards, spaces, methods, dot segments or trailing slash.
var callbackPathPattern = regexp.MustCompile(`^(/[A-Za-z0-9_~-][A-Za-z0-9._~-]*)+$`)

// Validate checks a loaded configuration. A missing GitHub client id is only a
// warning: the service still starts and /authorize reports the problem.
func Validate(cfg Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.Addr == "" {
		result.addError("ADDR", "listen address is required")
	}

	if cfg.GitHub.ClientID == "" {
		result.addWarning("GITHUB_CLIENT_ID", "not set, /authorize will answer 500 until configured")
	} else if cfg.GitHub.ClientSecret == "" {
		result.addError("GITHUB_CLIENT_SECRET", "required when GITHUB_CLIENT_ID is set")
	}

	validateAbsoluteURL(result, "BACKEND_URL", cfg.BackendURL, true)
	validateAbsoluteURL(result, "DEV_ORIGIN", cfg.DevOrigin, true)
	validateAbsoluteURL(result, "PUBLIC_URL", cfg.PublicURL, false)
	validateAbsoluteURL(result, "GITHUB_OAUTH_AUTH_URL", cfg.GitHub.AuthURL, false)
	validateAbsoluteURL(result, "GITHUB_OAUTH_TOKEN_URL", cfg.GitHub.TokenURL, false)
	validateAbsoluteURL(result, "GITHUB_API_URL", cfg.GitHub.APIBaseURL, false)
	if (cfg.GitHub.AuthURL == "") != (cfg.GitHub.TokenURL == "") {
		result.addError("GITHUB_OAUTH_TOKEN_URL", "GITHUB_OAUTH_AUTH_URL and GITHUB_OAUTH_TOKEN_URL must be set together")
	}
	validateAbsoluteURL(result, "OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint, false)

	for key, p := range map[string]string{
		"CALLBACK_PATH": cfg.Paths.Callback,
		"LOGIN_PATH":    cfg.Paths.Login,
		"LANDING_PATH":  cfg.Paths.Landing,
	} {
		if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
			result.addError(key, "must be an absolute path starting with a single '/', got %q", p)
		}
	}

	validateCallbackPath(result, cfg.Paths.Callback)

	if cfg.MasterModeratorEmail != "" && !emailutil.IsValid(emailutil.Normalize(cfg.MasterModeratorEmail)) {
		result.addError("MODERATOR_MASTER_EMAIL", "%q is not a valid email address", cfg.MasterModeratorEmail)
	}

	if cfg.UpstreamTimeout < 0 {
		result.addError("UPSTREAM_TIMEOUT", "must not be negative")
	}

	validateState(result, cfg)

	if cfg.RateLimit.RequestsPerSecond < 0 {
		result.addError("RATE_LIMIT_RPS", "must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst < 1 {
		result.addError("RATE_LIMIT_BURST", "must be at least 1 when rate limiting is enabled")
	}
	if cfg.RateLimit.MaxClients < 0 {
		result.addError("RATE_LIMIT_MAX_CLIENTS", "must not be negative")
	}

	if cfg.Production && cfg.PublicURL != "" && strings.HasPrefix(cfg.PublicURL, "http://") {
		result.addWarning("PUBLIC_URL", "plain http in production, the Secure auth cookie will not be sent back")
	}

	return result
}

func validateState(result *ValidationResult, cfg Config) {
	st := cfg.State
	switch st.Mode {
	case StateModeUnchecked:
		result.addWarning("STATE_VALIDATION", "state is generated but never verified on callback; set signed, memory or firestore to close the CSRF gap")
	case StateModeSigned:
		if st.SigningKey == "" && cfg.GitHub.ClientSecret == "" {
			result.addError("STATE_SIGNING_KEY", "required for signed state when GITHUB_CLIENT_SECRET is unset")
		}
		if st.SigningKey != "" && len(st.SigningKey) < 32 {
			result.addError("STATE_SIGNING_KEY", "must be at least 32 bytes")
		}
	case StateModeMemory:
	case StateModeFirestore:
		if st.GCPProject == "" {
			result.addError("GCP_PROJECT", "required for firestore state validation")
		}
		if st.FirestoreCollection == "" {
			result.addError("FIRESTORE_COLLECTION", "required for firestore state validation")
		}
	default:
		result.addError("STATE_VALIDATION", "unknown mode %q (want unchecked, signed, memory or firestore)", st.Mode)
		return
	}

	if st.Mode != StateModeUnchecked && st.TTL <= 0 {
		result.addError("STATE_TTL", "must be positive")
	}
	if (st.Mode == StateModeMemory || st.Mode == StateModeFirestore) && st.CleanupInterval <= 0 {
		result.addError("STATE_CLEANUP_INTERVAL", "must be positive")
	}
}

func validateAbsoluteURL(result *ValidationResult, key, raw string, required bool) {
	if raw == "" {
		if required {
			result.addError(key, "is required")
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		result.addError(key, "invalid URL: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		result.addError(key, "must use http or https, got %q", raw)
		return
	}
	if u.Host == "" {
		result.addError(key, "must include a host, got %q", raw)
	}
}

func validateCallbackPath(result *ValidationResult, p string) {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return // already reported as a malformed path
	}
	if !callbackPathPattern.MatchString(p) {
		result.addError("CALLBACK_PATH", "%q must be a plain path of letters, digits and -._~ segments", p)
		return
	}
	switch p {
	case "/authorize", "/logout", "/status", "/health":
		result.addError("CALLBACK_PATH", "%q is reserved by another route", p)
	}
}
