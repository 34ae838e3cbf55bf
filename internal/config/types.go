package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// GoString keeps %#v from leaking the value
func (s Secret) GoString() string {
	return s.String()
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StateMode selects how the OAuth state parameter is issued and checked.
type StateMode string

const (
	// StateModeUnchecked issues a random state and never verifies it on callback.
	StateModeUnchecked StateMode = "unchecked"
	// StateModeSigned issues HMAC-signed, expiring state tokens.
	StateModeSigned StateMode = "signed"
	// StateModeMemory keeps single-use nonces in process memory.
	StateModeMemory StateMode = "memory"
	// StateModeFirestore keeps single-use nonces in a Firestore collection.
	StateModeFirestore StateMode = "firestore"
)

// GitHubConfig holds the OAuth app credentials. The URL overrides are empty
// for github.com and set for GitHub Enterprise or test fakes.
type GitHubConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	AuthURL      string `json:"authUrl,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
	APIBaseURL   string `json:"apiBaseUrl,omitempty"`
}

// PathsConfig holds the browser-facing routes the callback redirects to.
type PathsConfig struct {
	Callback string `json:"callback"`
	Login    string `json:"login"`
	Landing  string `json:"landing"`
}

// StateConfig configures anti-forgery state handling
type StateConfig struct {
	Mode                StateMode     `json:"mode"`
	TTL                 time.Duration `json:"ttl"`
	SigningKey          Secret        `json:"signingKey"`
	CleanupInterval     time.Duration `json:"cleanupInterval"`
	GCPProject          string        `json:"gcpProject,omitempty"`
	FirestoreDatabase   string        `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string        `json:"firestoreCollection,omitempty"`
}

// RateLimitConfig configures per-client-IP limits on the OAuth endpoints.
// A zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
	MaxClients        int     `json:"maxClients"`
	TrustProxy        bool    `json:"trustProxy"`
}

// TelemetryConfig configures trace export. An empty endpoint keeps tracing
// in-process with no exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlpEndpoint,omitempty"`
	ServiceName  string `json:"serviceName"`
}

// Config is the complete service configuration. It is built once at startup
// and passed by value to every component.
type Config struct {
	Addr                 string          `json:"addr"`
	Environment          string          `json:"environment"`
	Production           bool            `json:"production"`
	GitHub               GitHubConfig    `json:"github"`
	BackendURL           string          `json:"backendUrl"`
	MasterModeratorEmail string          `json:"masterModeratorEmail,omitempty"`
	PublicURL            string          `json:"publicUrl,omitempty"`
	DevOrigin            string          `json:"devOrigin"`
	Paths                PathsConfig     `json:"paths"`
	UpstreamTimeout      time.Duration   `json:"upstreamTimeout"`
	State                StateConfig     `json:"state"`
	RateLimit            RateLimitConfig `json:"rateLimit"`
	Telemetry            TelemetryConfig `json:"telemetry"`
	LogLevel             string          `json:"logLevel,omitempty"`
	LogFormat            string          `json:"logFormat,omitempty"`
}

// SessionMaxAge is the lifetime of the auth_token cookie.
const SessionMaxAge = 7 * 24 * time.Hour

// Default values applied by Load when a variable is unset.
const (
	DefaultAddr                = ":8080"
	DefaultEnvironment         = "production"
	DefaultBackendURL          = "http://localhost:8000"
	DefaultDevOrigin           = "http://localhost:3000"
	DefaultCallbackPath        = "/callback"
	DefaultLoginPath           = "/login"
	DefaultLandingPath         = "/moderator"
	DefaultStateTTL            = 10 * time.Minute
	DefaultCleanupInterval     = 5 * time.Minute
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "gh_oauth_states"
	DefaultRateLimitRPS        = 5
	DefaultRateLimitBurst      = 10
	DefaultRateLimitMaxClients = 10000
	DefaultServiceName         = "gh-oauth-relay"
)
