package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/service"
	"github.com/sakif/propability/internal/workspace"
)

const (
	stateCookieName = "oauth_state"
	// DashboardPath is where a completed third-party sign-in lands.
	DashboardPath = "/dashboard"
)

// AuthHandler serves sign-up, sign-in (password and OAuth), sign-out and
// the current-user endpoint.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp / HandleSignIn    → email + password, set the session cookie
//   - HandleProviderLogin            → redirect to Google or GitHub
//   - HandleProviderCallback         → verify state, exchange the code, set the cookie
//   - HandleSignOut                  → clear the cookie and release the workspace
//   - HandleMe                       → the signed-in user's profile
//
// Every successful sign-in publishes the new session to the user's workspace
// gate, so a registry loaded under an earlier session is refreshed or cleared.
type AuthHandler struct {
	auth          *service.AuthService
	workspaces    *workspace.Manager
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookies should be true
// whenever the server is reached over HTTPS.
func NewAuthHandler(
	authService *service.AuthService,
	workspaces *workspace.Manager,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		workspaces:    workspaces,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse is the account as the client sees it, plus the greeting name.
type userResponse struct {
	*model.User
	FirstName string `json:"firstName"`
}

type authResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// HandleSignUp creates an email/password account and signs it in.
//
// HTTP: POST /auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.logger.Info("sign-up rejected", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	h.establish(w, res)
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

// HandleSignIn checks an email/password pair.
//
// HTTP: POST /auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.establish(w, res)
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// HandleSignOut clears the session cookie and releases the caller's
// workspace, which empties their registry and discards any in-flight
// submission.
//
// HTTP: POST /auth/signout
//
// Sessions are stateless JWTs, so the token stays technically valid until it
// expires; without the cookie the browser can no longer send it.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		h.workspaces.SignOut(userID)
		h.logger.Info("user signed out", slog.String("userID", userID))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleProviderLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
//
// CSRF PROTECTION VIA STATE:
// The random state is stored in a short-lived HttpOnly cookie and must come
// back unchanged on the callback.
func (h *AuthHandler) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, state, err := h.auth.SignInWithProvider(provider)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleProviderCallback completes a third-party sign-in.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Handle a denied consent
//  3. Exchange the code, upsert the account, issue a session
//  4. Set the cookie and redirect to the dashboard
func (h *AuthHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie", slog.String("provider", provider))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if q.Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch",
			slog.String("provider", provider),
			slog.String("expected", stateCookie.Value),
			slog.String("got", q.Get("state")),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("provider", provider),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	res, err := h.auth.CompleteProvider(r.Context(), provider, q.Get("code"))
	if err != nil {
		h.logger.Error("auth callback: sign-in failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.establish(w, res)
	http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "valid authentication required"})
		return
	}

	user, err := h.auth.GetUserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("HandleMe: user lookup failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user, FirstName: user.FirstName()})
}

// HandleProviders lists the configured third-party sign-in options.
//
// HTTP: GET /auth/providers
func (h *AuthHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": h.auth.Providers()})
}

// establish sets the session cookie and publishes the session to the user's
// workspace.
func (h *AuthHandler) establish(w http.ResponseWriter, res *service.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Session.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	h.workspaces.Acquire(res.Session)
}

func toAuthResponse(res *service.AuthResult) authResponse {
	return authResponse{
		User:      userResponse{User: res.User, FirstName: res.User.FirstName()},
		ExpiresAt: res.Session.ExpiresAt,
	}
}
