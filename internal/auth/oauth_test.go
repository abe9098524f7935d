package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newFakeOAuthServer serves a token endpoint plus the given API routes.
func newFakeOAuthServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8080/auth/github/callback")

	u, err := url.Parse(p.AuthURL("state-xyz"))
	require.NoError(t, err)

	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "state-xyz", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "github", p.Name())
}

func TestGitHubProvider_Exchange(t *testing.T) {
	srv := newFakeOAuthServer(t, map[string]string{
		"/user":        `{"id":4242,"login":"ivy","name":"","email":"","avatar_url":"https://a/1.png"}`,
		"/user/emails": `[{"email":"old@x.com","primary":false,"verified":true},{"email":"ivy@x.com","primary":true,"verified":true}]`,
	})
	p := NewGitHubProvider("id", "secret", "cb")
	p.config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token"}
	p.apiURL = srv.URL

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, &Profile{Subject: "4242", Email: "ivy@x.com", Name: "ivy", AvatarURL: "https://a/1.png"}, profile)
}

func TestGitHubProvider_ExchangeBadCode(t *testing.T) {
	srv := newFakeOAuthServer(t, nil)
	p := NewGitHubProvider("id", "secret", "cb")
	p.config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token"}
	p.apiURL = srv.URL

	_, err := p.Exchange(context.Background(), "bad-code")

	assert.Error(t, err)
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := newFakeOAuthServer(t, map[string]string{
		"/userinfo": `{"sub":"g-1","email":"fern@x.com","name":"Fern Leaf","picture":"https://p/1"}`,
	})
	p := NewGoogleProvider("id", "secret", "cb")
	p.config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token"}
	p.userInfoURL = srv.URL + "/userinfo"

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, "g-1", profile.Subject)
	assert.Equal(t, "Fern Leaf", profile.Name)
	assert.Equal(t, "google", p.Name())
}

func TestGoogleProvider_MissingSubject(t *testing.T) {
	srv := newFakeOAuthServer(t, map[string]string{"/userinfo": `{"email":"x@x.com"}`})
	p := NewGoogleProvider("id", "secret", "cb")
	p.config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token"}
	p.userInfoURL = srv.URL + "/userinfo"

	_, err := p.Exchange(context.Background(), "good-code")

	assert.ErrorContains(t, err, "without a subject")
}
