package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/envutil"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv reads the configuration from the process environment.
func LoadFromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, applying defaults, then validates it.
// Parse errors for typed values (durations, numbers) are returned immediately;
// semantic problems are collected by Validate.
func Load(lookup LookupFunc) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		Addr:        get("ADDR", DefaultAddr),
		Environment: get("APP_ENV", DefaultEnvironment),
		GitHub: GitHubConfig{
			ClientID:     get("GITHUB_CLIENT_ID", ""),
			ClientSecret: Secret(get("GITHUB_CLIENT_SECRET", "")),
			AuthURL:      get("GITHUB_OAUTH_AUTH_URL", ""),
			TokenURL:     get("GITHUB_OAUTH_TOKEN_URL", ""),
			APIBaseURL:   strings.TrimRight(get("GITHUB_API_URL", ""), "/"),
		},
		BackendURL:           strings.TrimRight(get("BACKEND_URL", DefaultBackendURL), "/"),
		MasterModeratorEmail: get("MODERATOR_MASTER_EMAIL", ""),
		PublicURL:            strings.TrimRight(get("PUBLIC_URL", ""), "/"),
		DevOrigin:            strings.TrimRight(get("DEV_ORIGIN", DefaultDevOrigin), "/"),
		Paths: PathsConfig{
			Callback: get("CALLBACK_PATH", DefaultCallbackPath),
			Login:    get("LOGIN_PATH", DefaultLoginPath),
			Landing:  get("LANDING_PATH", DefaultLandingPath),
		},
		State: StateConfig{
			Mode:                StateMode(strings.ToLower(get("STATE_VALIDATION", string(StateModeUnchecked)))),
			SigningKey:          Secret(get("STATE_SIGNING_KEY", "")),
			GCPProject:          get("GCP_PROJECT", ""),
			FirestoreDatabase:   get("FIRESTORE_DATABASE", DefaultFirestoreDatabase),
			FirestoreCollection: get("FIRESTORE_COLLECTION", DefaultFirestoreCollection),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  get("OTEL_SERVICE_NAME", DefaultServiceName),
		},
		LogLevel:  get("LOG_LEVEL", ""),
		LogFormat: get("LOG_FORMAT", ""),
	}
	cfg.Production = !envutil.IsDevEnv(cfg.Environment)

	var err error
	if cfg.UpstreamTimeout, err = parseDuration("UPSTREAM_TIMEOUT", get("UPSTREAM_TIMEOUT", "0")); err != nil {
		return Config{}, err
	}
	if cfg.State.TTL, err = parseDuration("STATE_TTL", get("STATE_TTL", DefaultStateTTL.String())); err != nil {
		return Config{}, err
	}
	if cfg.State.CleanupInterval, err = parseDuration("STATE_CLEANUP_INTERVAL", get("STATE_CLEANUP_INTERVAL", DefaultCleanupInterval.String())); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.RequestsPerSecond, err = strconv.ParseFloat(get("RATE_LIMIT_RPS", strconv.Itoa(DefaultRateLimitRPS)), 64); err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimit.Burst, err = strconv.Atoi(get("RATE_LIMIT_BURST", strconv.Itoa(DefaultRateLimitBurst))); err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimit.MaxClients, err = strconv.Atoi(get("RATE_LIMIT_MAX_CLIENTS", strconv.Itoa(DefaultRateLimitMaxClients))); err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_MAX_CLIENTS: %w", err)
	}
	if cfg.RateLimit.TrustProxy, err = strconv.ParseBool(get("RATE_LIMIT_TRUST_PROXY", "false")); err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_TRUST_PROXY: %w", err)
	}

	if result := Validate(cfg); !result.IsValid() {
		return Config{}, fmt.Errorf("config validation failed: %w", result)
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
