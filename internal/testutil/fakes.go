package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// FakeGitHub serves the token endpoint and the two REST routes the callback uses.
// Zero status fields mean 200.
type FakeGitHub struct {
	Server *httptest.Server

	mu            sync.Mutex
	TokenStatus   int
	TokenResponse map[string]any
	UserStatus    int
	User          map[string]any
	EmailsStatus  int
	Emails        []map[string]any

	AuthorizeRequests []url.Values
	TokenRequests     []url.Values
	AuthHeaders       []string
	Hits              map[string]int
}

// NewFakeGitHub starts a fake that issues "gho_test" for any code and returns
// the octocat profile with a public email.
func NewFakeGitHub(t *testing.T) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{
		TokenResponse: map[string]any{
			"access_token": "gho_test",
			"token_type":   "bearer",
			"scope":        "read:user,user:email",
		},
		User: map[string]any{
			"id":    float64(583231),
			"login": "octocat",
			"email": "octocat@github.com",
			"name":  "The Octocat",
		},
		Hits: map[string]int{},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Server.Close)
	return f
}

// TokenURL is the fake's token endpoint.
func (f *FakeGitHub) TokenURL() string {
	return f.Server.URL + "/login/oauth/access_token"
}

// AuthURL is the fake's authorize endpoint.
func (f *FakeGitHub) AuthURL() string {
	return f.Server.URL + "/login/oauth/authorize"
}

// Count returns how many times path was requested.
func (f *FakeGitHub) Count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Hits[path]
}

func (f *FakeGitHub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Hits[r.URL.Path]++

	switch r.URL.Path {
	case "/login/oauth/authorize":
		// Consent is implicit: bounce straight back with a code.
		q := r.URL.Query()
		f.AuthorizeRequests = append(f.AuthorizeRequests, q)
		target, err := url.Parse(q.Get("redirect_uri"))
		if err != nil || target.Scheme == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		back := target.Query()
		back.Set("code", "fake-code")
		back.Set("state", q.Get("state"))
		target.RawQuery = back.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	case "/login/oauth/access_token":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = r.ParseForm()
		f.TokenRequests = append(f.TokenRequests, r.PostForm)
		writeJSON(w, f.TokenStatus, f.TokenResponse)
	case "/user":
		f.AuthHeaders = append(f.AuthHeaders, r.Header.Get("Authorization"))
		writeJSON(w, f.UserStatus, f.User)
	case "/user/emails":
		f.AuthHeaders = append(f.AuthHeaders, r.Header.Get("Authorization"))
		writeJSON(w, f.EmailsStatus, f.Emails)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// FakeBackend serves the backend authentication routes.
type FakeBackend struct {
	Server *httptest.Server

	mu             sync.Mutex
	HandoffStatus  int
	HandoffBody    any
	MeStatus       int
	MeBody         any
	Handoffs       []map[string]any
	MeAuthHeaders  []string
	HandoffHeaders []http.Header
}

// NewFakeBackend starts a backend that answers every handoff with
// {"access_token":"T"} and /api/auth/me with a moderator user.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		HandoffBody: map[string]any{
			"access_token": "T",
			"token_type":   "bearer",
			"user": map[string]any{
				"id":                   float64(7),
				"username":             "octocat",
				"email":                "octocat@github.com",
				"role":                 "moderator",
				"auth_method":          "github_oauth",
				"can_access_moderator": true,
			},
		},
		MeBody: map[string]any{
			"authenticated": true,
			"user": map[string]any{
				"id":       float64(7),
				"username": "octocat",
				"role":     "moderator",
			},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the backend base URL.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// HandoffCount returns how many handoff requests were received.
func (f *FakeBackend) HandoffCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Handoffs)
}

func (f *FakeBackend) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/auth/github-oauth":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.Handoffs = append(f.Handoffs, body)
		f.HandoffHeaders = append(f.HandoffHeaders, r.Header.Clone())
		writeJSON(w, f.HandoffStatus, f.HandoffBody)
	case "/api/auth/me":
		f.MeAuthHeaders = append(f.MeAuthHeaders, r.Header.Get("Authorization"))
		writeJSON(w, f.MeStatus, f.MeBody)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
