package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/carhelperai/carhelper/internal/api/response"
	"github.com/carhelperai/carhelper/internal/ratelimit"
)

// RateLimit applies a fixed-window policy per client address.
type RateLimit struct {
	limiter *ratelimit.Limiter
}

func NewRateLimit(l *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: l}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := GetClientIP(r)
		d, err := rl.limiter.Allow(r.Context(), client)
		if err != nil {
			// On store error, allow the request (fail open)
			slog.Error("rate limiter unavailable", "client", client, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		WriteRateLimitHeaders(w, d)
		if !d.Allowed {
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMITED", "Too many requests, please try again later", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteRateLimitHeaders sets the X-RateLimit-* headers, plus Retry-After in
// whole seconds when the request was rejected.
func WriteRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
