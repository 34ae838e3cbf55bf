package cookie

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/log"
)

// SessionCookie carries the backend-issued session token.
const SessionCookie = "auth_token"

// RedirectCookie remembers the redirect_uri sent on /authorize so the code
// exchange can repeat it. It is scoped to the callback path.
const RedirectCookie = "gh_oauth_redirect"

// Jar sets and clears the session cookie. Secure is on outside development.
type Jar struct {
	Secure bool
}

// NewJar returns a Jar; production turns on the Secure attribute.
func NewJar(production bool) Jar {
	return Jar{Secure: production}
}

func (j Jar) session(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// SetSession sets the session cookie with appropriate security settings
func (j Jar) SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, j.session(value, int(maxAge.Seconds())))

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   j.Secure,
		"sameSite": "Lax",
	})
}

// ClearSession expires the session cookie with the same attributes it was set with
func (j Jar) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, j.session("", -1))
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func (j Jar) redirect(value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RedirectCookie,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// SetRedirect stores the authorize redirect_uri for the callback at path.
func (j Jar) SetRedirect(w http.ResponseWriter, redirectURI, path string, maxAge time.Duration) {
	http.SetCookie(w, j.redirect(url.QueryEscape(redirectURI), path, int(maxAge.Seconds())))
}

// ClearRedirect expires the redirect cookie set for path.
func (j Jar) ClearRedirect(w http.ResponseWriter, path string) {
	http.SetCookie(w, j.redirect("", path, -1))
}

// GetRedirect returns the stored redirect_uri, if any.
func GetRedirect(r *http.Request) (string, error) {
	c, err := r.Cookie(RedirectCookie)
	if err != nil {
		return "", err
	}
	return url.QueryUnescape(c.Value)
}
