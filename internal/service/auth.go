// Package service holds the business rules between the HTTP handlers and
// the stores.
//
//	Handler (HTTP) → Service (rules, orchestration) → Repository / Blob / Inference
//
// Services take interfaces, never concrete stores, so tests inject
// hand-written fakes and main.go picks SQLite or Postgres, S3 or the local
// filesystem, without any service changing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
)

// MinPasswordLength is the shortest password SignUp accepts.
const MinPasswordLength = 6

// AuthService is the identity provider: email/password accounts plus
// third-party sign-in through OAuth providers.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository → read/write accounts
//   - tokens     *auth.TokenService        → issue/validate session JWTs
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - providers  auth.Provider by name     → Google, GitHub
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	providers map[string]auth.Provider
	logger    *slog.Logger
}

// NewAuthService creates an AuthService. Providers with empty credentials
// should simply not be passed.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	providers ...auth.Provider,
) *AuthService {
	byName := make(map[string]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		providers: byName,
		logger:    logger,
	}
}

// AuthResult bundles the account and its new session so the handler can set
// the cookie and publish the session in one step.
type AuthResult struct {
	User    *model.User
	Session *model.Session
}

// SignUp creates an email/password account and signs it in.
func (s *AuthService) SignUp(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	displayName = strings.TrimSpace(displayName)

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Email:        email,
		DisplayName:  displayName,
		Provider:     model.ProviderPassword,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID), slog.String("email", user.Email))
	return s.issue(user)
}

// SignIn checks an email/password pair. A wrong email and a wrong password
// fail the same way.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Warn("sign-in rejected", slog.String("email", email))
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user signed in", slog.String("userID", user.ID))
	return s.issue(user)
}

// Providers lists the configured third-party sign-in options, sorted.
func (s *AuthService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SignInWithProvider starts a third-party sign-in. It returns the URL to
// redirect the browser to and the state value the callback must echo back.
func (s *AuthService) SignInWithProvider(name string) (authURL, state string, err error) {
	p, ok := s.providers[name]
	if !ok {
		return "", "", apperror.NotFound("sign-in provider", name)
	}
	state = xid.New().String()
	return p.AuthURL(state), state, nil
}

// CompleteProvider finishes a third-party sign-in: it exchanges the code,
// creates or refreshes the account and issues a session.
func (s *AuthService) CompleteProvider(ctx context.Context, name, code string) (*AuthResult, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperror.NotFound("sign-in provider", name)
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "missing OAuth code")
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %s exchange: %w", name, err)
	}

	user := &model.User{
		Email:           strings.ToLower(strings.TrimSpace(profile.Email)),
		DisplayName:     profile.Name,
		Provider:        p.Name(),
		ProviderSubject: profile.Subject,
		AvatarURL:       profile.AvatarURL,
	}
	if err := s.users.UpsertProvider(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting %s user %s: %w", name, profile.Subject, err)
	}

	s.logger.Info("user authenticated via provider",
		slog.String("userID", user.ID),
		slog.String("provider", name),
	)
	return s.issue(user)
}

// GetUserByID returns the account for the given internal ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID must not be empty")
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// ValidateToken returns the session a token carries.
func (s *AuthService) ValidateToken(token string) (*model.Session, error) {
	sess, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	return sess, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	sess, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Session: sess}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email address is not valid")
	}
	return email, nil
}
