package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
)

const stateCookieName = "oauth_state"

// AuthHandler serves the JSON auth endpoints and the GitHub OAuth flow.
// github is nil when GitHub sign-in is not configured.
type AuthHandler struct {
	auth   *service.AuthService
	github *auth.GitHubProvider
	logger *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, github *auth.GitHubProvider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, github: github, logger: logger}
}

type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignUp creates an account and signs the user in.
//
// HTTP: POST /api/auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		logIfInternal(h.logger, "sign up failed", err)
		writeError(w, err)
		return
	}

	setSessionCookie(w, session)
	writeJSON(w, http.StatusCreated, session)
}

// HandleSignIn exchanges credentials for a session.
//
// HTTP: POST /api/auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		logIfInternal(h.logger, "sign in failed", err)
		writeError(w, err)
		return
	}

	setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, session)
}

// HandleSignOut revokes the presented token and clears the cookie.
//
// HTTP: POST /api/auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), auth.TokenFromRequest(r)); err != nil {
		h.logger.Error("sign out failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh swaps the presented token for a fresh one.
//
// HTTP: POST /api/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.RefreshSession(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		logIfInternal(h.logger, "refresh failed", err)
		writeError(w, err)
		return
	}
	setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, session)
}

// HandleSession returns the current session.
//
// HTTP: GET /api/auth/session
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.GetSession(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		logIfInternal(h.logger, "loading session failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type meResponse struct {
	*model.Profile
	IsAdmin bool `json:"isAdmin"`
}

// HandleMe returns the signed-in user's profile and role.
//
// HTTP: GET /api/me (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.auth.GetCurrentUser(r.Context(), userID)
	if err != nil {
		logIfInternal(h.logger, "loading profile failed", err)
		writeError(w, err)
		return
	}
	isAdmin, err := h.auth.IsAdmin(r.Context(), userID)
	if err != nil {
		h.logger.Error("role check failed", slog.String("userID", userID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Profile: profile, IsAdmin: isAdmin})
}

// HandleGitHubLogin redirects the browser to GitHub. The random state is
// kept in a short-lived cookie and checked on callback.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("generating oauth state failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow and lands on the dashboard.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: invalid state")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	// single use
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		setFlash(w, flashError, "GitHub sign-in was cancelled.")
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	session, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		logIfInternal(h.logger, "auth callback: login failed", err)
		setFlash(w, flashError, flashMessage(err))
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	setSessionCookie(w, session)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// setSessionCookie stores the token for the HTML pages. API clients may
// use the Authorization header instead.
func setSessionCookie(w http.ResponseWriter, s *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    s.AccessToken,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
