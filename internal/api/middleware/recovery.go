package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/getsentry/sentry-go"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR and reports it to
// the request's Sentry hub when one is attached. http.ErrAbortHandler is
// re-raised so net/http can abort the connection as usual.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.RecoverWithContext(r.Context(), rec)
			}

			attrs := []any{
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", GetClientIP(r),
				"stack", string(debug.Stack()),
			}
			if u, ok := GetUser(r); ok {
				attrs = append(attrs, "user_id", u.ID)
			}
			slog.Error("panic recovered", attrs...)

			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
