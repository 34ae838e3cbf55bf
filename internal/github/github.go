// Package github talks to GitHub's OAuth and REST endpoints on behalf of the
// callback handler: code exchange, profile fetch and primary email lookup.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgellow/gh-oauth-relay/internal/emailutil"
	"github.com/dgellow/gh-oauth-relay/internal/ioutil"
	"golang.org/x/oauth2"
	ghoauth "golang.org/x/oauth2/github"
)

// Scopes requested from GitHub: read-only profile and email access.
var Scopes = []string{"read:user", "user:email"}

const defaultAPIBaseURL = "https://api.github.com"

// ErrNoPrimaryEmail is returned when the profile has no public email and the
// account's email list contains no entry flagged primary.
var ErrNoPrimaryEmail = errors.New("no primary email on GitHub account")

// ErrMissingAccessToken is returned when the token endpoint answers without an access token.
var ErrMissingAccessToken = errors.New("token response missing access_token")

// Identity is the user identity resolved from GitHub.
type Identity struct {
	ID            int64  `json:"id"`
	Login         string `json:"login"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// Subject returns the numeric GitHub id as a string.
func (i *Identity) Subject() string {
	return strconv.FormatInt(i.ID, 10)
}

// userResponse represents GitHub's user API response.
type userResponse struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Email     *string `json:"email"`
	Name      string  `json:"name"`
	AvatarURL string  `json:"avatar_url"`
}

// emailResponse represents an email from GitHub's emails API.
type emailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Client performs the GitHub side of the authorization-code flow.
// GitHub uses OAuth 2.0 (not OIDC), so identity comes from its REST API.
type Client struct {
	config     oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the OAuth authorize and token URLs.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *Client) {
		c.config.Endpoint = oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
}

// WithAPIBaseURL overrides https://api.github.com.
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = baseURL
	}
}

// WithHTTPClient sets the transport used for every outbound call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a GitHub OAuth client. The redirect URI is not fixed here
// because it is derived per request from the browser's origin.
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ghoauth.Endpoint.AuthURL,
				TokenURL:  ghoauth.Endpoint.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: defaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a client id is present.
func (c *Client) Configured() bool {
	return c.config.ClientID != ""
}

// AuthURL builds the authorization URL GitHub should send the browser to.
func (c *Client) AuthURL(state, redirectURI string) string {
	return c.config.AuthCodeURL(state, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// ExchangeCode posts the code, client credentials and redirect URI to the
// token endpoint. Non-2xx answers, error bodies and bodies without an access
// token all fail.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(c.withHTTPClient(ctx), code, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return token, nil
}

// FetchUser reads GET /user. A public profile email is always verified on GitHub.
func (c *Client) FetchUser(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	const op = "failed to get user"

	resp, err := c.get(ctx, token, "/user")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := ioutil.CheckStatus(op, resp); err != nil {
		return nil, err
	}

	var user userResponse
	if err := ioutil.DecodeJSON(op, resp.Body, &user); err != nil {
		return nil, err
	}

	identity := &Identity{
		ID:        user.ID,
		Login:     user.Login,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if user.Email != nil && *user.Email != "" {
		identity.Email = emailutil.Normalize(*user.Email)
		identity.EmailVerified = true
	}
	return identity, nil
}

// FetchPrimaryEmail reads GET /user/emails and returns the entry flagged primary.
func (c *Client) FetchPrimaryEmail(ctx context.Context, token *oauth2.Token) (string, bool, error) {
	const op = "failed to get emails"

	resp, err := c.get(ctx, token, "/user/emails")
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := ioutil.CheckStatus(op, resp); err != nil {
		return "", false, err
	}

	var emails []emailResponse
	if err := ioutil.DecodeJSON(op, resp.Body, &emails); err != nil {
		return "", false, err
	}

	for _, e := range emails {
		if e.Primary && e.Email != "" {
			return emailutil.Normalize(e.Email), e.Verified, nil
		}
	}
	return "", false, ErrNoPrimaryEmail
}

func (c *Client) get(ctx context.Context, token *oauth2.Token, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	// oauth2's transport adds "Authorization: Bearer <token>".
	return c.config.Client(c.withHTTPClient(ctx), token).Do(req)
}
