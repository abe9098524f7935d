package auth

import (
	"context"
	"net/http"

	"github.com/sakif/propability/internal/model"
)

// CookieName is the HttpOnly cookie the session token travels in.
const CookieName = "token"

// contextKey is an unexported type so no other package can collide with our
// context values.
type contextKey string

const sessionKey contextKey = "session"

// RequireAuth rejects requests without a valid session cookie (401) and puts
// the *model.Session in the request context for everything downstream.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := sessionFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthenticated","message":"valid authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// OptionalAuth adds the session to the context when the cookie is valid and
// passes every request through.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s, err := sessionFromRequest(r, tokens); err == nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session RequireAuth stored.
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*model.Session)
	return s, ok && s != nil
}

// UserIDFromContext returns the authenticated user's ID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, s.UserID != ""
}

func sessionFromRequest(r *http.Request, tokens *TokenService) (*model.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}
	return tokens.Validate(cookie.Value)
}
