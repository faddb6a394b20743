package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mw "github.com/carhelperai/carhelper/internal/api/middleware"
	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/auth"
	"github.com/carhelperai/carhelper/pkg/models"
)

// Authenticator defines the account operations the auth handlers depend on.
type Authenticator interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (*models.User, string, error)
	SignOut(ctx context.Context, token string) error
	TTL() time.Duration
}

// AuthHandlers serves the /auth routes.
type AuthHandlers struct {
	svc          Authenticator
	secureCookie bool
}

func NewAuthHandlers(svc Authenticator, secureCookie bool) *AuthHandlers {
	return &AuthHandlers{svc: svc, secureCookie: secureCookie}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	u, err := h.svc.SignUp(r.Context(), auth.SignUpInput{Email: req.Email, Password: req.Password, Name: req.Name})
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		response.Error(w, http.StatusConflict, "CONFLICT", "An account with this email already exists", nil)
		return
	case err != nil:
		slog.Error("sign up failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create account", nil)
		return
	}

	response.Created(w, map[string]any{"user": u})
}

func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
		return
	}

	u, token, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid email or password", nil)
		return
	}
	if err != nil {
		slog.Error("sign in failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to sign in", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.svc.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, map[string]any{"user": u})
}

func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(mw.SessionCookie); err == nil && c.Value != "" {
		if err := h.svc.SignOut(r.Context(), c.Value); err != nil {
			slog.Warn("sign out failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, map[string]bool{"success": true})
}

// Session reports the signed-in user, or null. It never answers 401.
func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	u, ok := mw.GetUser(r)
	if !ok {
		response.JSON(w, map[string]any{"user": nil})
		return
	}
	response.JSON(w, map[string]any{"user": u})
}
