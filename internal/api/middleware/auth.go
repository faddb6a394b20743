package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/pkg/models"
)

// SessionCookie is the name of the cookie carrying the opaque session token.
const SessionCookie = "session"

// SessionResolver maps a session token to its user. Unknown tokens yield a
// nil user and no error.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.User, error)
}

// Auth provides session middleware.
type Auth struct {
	sessions SessionResolver
}

func NewAuth(s SessionResolver) *Auth {
	return &Auth{sessions: s}
}

// Identify attaches the session's user to the request context when the
// cookie resolves. Requests without a valid session pass through anonymously.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		u, err := a.sessions.Resolve(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("resolve session", "error", err, "path", r.URL.Path)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}
		if u != nil {
			r = r.WithContext(SetUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests that Identify could not attach a user to.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r); !ok {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
