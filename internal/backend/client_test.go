package backend

import (
	"context"
	"net/http"
	"testing"

	"github.com/dgellow/gh-oauth-relay/internal/ioutil"
	"github.com/dgellow/gh-oauth-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AuthenticateGitHub(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	c := NewClient(fake.URL(), nil)

	session, err := c.AuthenticateGitHub(context.Background(), Handoff{
		AccessToken: "gho_test",
		Email:       "octocat@github.com",
		GitHubID:    583231,
		Username:    "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, "T", session.AccessToken)
	require.NotNil(t, session.User)
	assert.Equal(t, "moderator", session.User.Role)

	require.Len(t, fake.Handoffs, 1)
	assert.Equal(t, map[string]any{
		"access_token": "gho_test",
		"email":        "octocat@github.com",
		"github_id":    float64(583231),
		"username":     "octocat",
	}, fake.Handoffs[0])
	assert.Equal(t, "application/json", fake.HandoffHeaders[0].Get("Content-Type"))
}

func TestClient_AuthenticateGitHub_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   map[string]any{"detail": "Email is required for registration"},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"detail": "slow down"},
		},
		{
			name:    "missing token",
			status:  http.StatusOK,
			body:    map[string]any{"token_type": "bearer"},
			wantErr: ErrMissingAccessToken,
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeBackend(t)
			fake.HandoffStatus = tt.status
			fake.HandoffBody = tt.body

			_, err := NewClient(fake.URL(), nil).AuthenticateGitHub(context.Background(), Handoff{AccessToken: "x"})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.status >= 300 {
				var statusErr *ioutil.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.status, statusErr.StatusCode)
			}
		})
	}
}

func TestClient_AuthenticateGitHub_Unreachable(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	url := fake.URL()
	fake.Server.Close()

	_, err := NewClient(url, nil).AuthenticateGitHub(context.Background(), Handoff{AccessToken: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend github-oauth")
}

func TestClient_Me(t *testing.T) {
	fake := testutil.NewFakeBackend(t)

	status, err := NewClient(fake.URL(), nil).Me(context.Background(), "T")
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.User)
	assert.Equal(t, "octocat", status.User.Username)
	assert.Equal(t, []string{"Bearer T"}, fake.MeAuthHeaders)
}

func TestClient_Me_Unauthorized(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	fake.MeStatus = http.StatusUnauthorized
	fake.MeBody = map[string]any{"detail": "Invalid authentication credentials"}

	_, err := NewClient(fake.URL(), nil).Me(context.Background(), "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
