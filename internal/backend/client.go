// Package backend is the client for the backend authentication service that
// owns user records and issues session tokens.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgellow/gh-oauth-relay/internal/ioutil"
	"github.com/dgellow/gh-oauth-relay/internal/urlutil"
)

const (
	githubOAuthPath = "/api/auth/github-oauth"
	mePath          = "/api/auth/me"
)

// ErrMissingAccessToken is returned when the backend accepts the handoff but
// its response carries no session token.
var ErrMissingAccessToken = errors.New("backend response missing access_token")

// Handoff is the identity forwarded after a successful GitHub login.
type Handoff struct {
	AccessToken string `json:"access_token"`
	Email       string `json:"email"`
	GitHubID    int64  `json:"github_id"`
	Username    string `json:"username"`
}

// User is the backend's view of the authenticated user.
type User struct {
	ID                   int64  `json:"id"`
	Username             string `json:"username"`
	Email                string `json:"email,omitempty"`
	Role                 string `json:"role,omitempty"`
	AuthMethod           string `json:"auth_method,omitempty"`
	CabinetAccessEnabled bool   `json:"cabinet_access_enabled,omitempty"`
	CanAccessModerator   bool   `json:"can_access_moderator,omitempty"`
}

// Session is the backend's answer to a handoff.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        *User  `json:"user,omitempty"`
}

// Status is the backend's view of a session token.
type Status struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user"`
}

// Client calls the backend authentication endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. A nil httpClient uses http.DefaultClient,
// so timeouts are whatever the caller's context imposes.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// AuthenticateGitHub posts the resolved identity and returns the session the
// backend issued for it.
func (c *Client) AuthenticateGitHub(ctx context.Context, h Handoff) (*Session, error) {
	const op = "backend github-oauth"

	endpoint, err := urlutil.JoinPath(c.baseURL, githubOAuthPath)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid backend URL: %w", op, err)
	}

	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := ioutil.CheckStatus(op, resp); err != nil {
		return nil, err
	}

	var session Session
	if err := ioutil.DecodeJSON(op, resp.Body, &session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &session, nil
}

// Me asks the backend who owns token.
func (c *Client) Me(ctx context.Context, token string) (*Status, error) {
	const op = "backend me"

	endpoint, err := urlutil.JoinPath(c.baseURL, mePath)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid backend URL: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := ioutil.CheckStatus(op, resp); err != nil {
		return nil, err
	}

	var status Status
	if err := ioutil.DecodeJSON(op, resp.Body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
