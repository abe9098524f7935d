// Package auth issues and checks session tokens and talks to OAuth providers.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The user signs up or signs in with email/password, or visits
//     /auth/{provider}/login and comes back through /auth/{provider}/callback.
//  2. The server issues a JWT and stores it in an HttpOnly "token" cookie.
//  3. On every API call, RequireAuth validates the cookie and puts the
//     resulting *model.Session in the request context.
//
// The token carries everything a Session needs (user ID, email, display
// name, expiry), so validating it needs no database lookup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/model"
)

const (
	issuer = "propability"
	// DefaultTTL is how long a session token stays valid.
	DefaultTTL = 24 * time.Hour
)

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration, c clock.Clock) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = clock.Real{}
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, clock: c}, nil
}

// claims is the JWT payload. "sub" holds the internal user ID.
type claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for user and returns the Session it represents.
func (s *TokenService) Issue(user *model.User) (*model.Session, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("auth: cannot issue a token without a user ID")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)

	c := claims{
		Email: user.Email,
		Name:  user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing token: %w", err)
	}

	return &model.Session{
		Token:       signed,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		// NumericDate truncates to whole seconds; report what Validate will see.
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Validate parses and verifies a token and returns the Session it carries.
//
// Verifies:
//   - signature (HS256 with our secret)
//   - issuer
//   - expiry, against the service clock
func (s *TokenService) Validate(tokenStr string) (*model.Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}

	return &model.Session{
		Token:       tokenStr,
		UserID:      c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}
