// Package aierr holds the provider-independent failure kinds every completion
// provider maps its upstream errors onto.
package aierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrProviderNotConfigured = errors.New("ai provider not configured")
	ErrProviderUnavailable   = errors.New("ai provider unavailable")
	ErrInferenceTimeout      = errors.New("ai inference timeout")
	ErrInvalidResponse       = errors.New("ai provider returned invalid response")
	ErrQuotaExceeded         = errors.New("ai provider quota exceeded")
)

// FromStatus classifies a non-2xx upstream response. code is the provider's
// machine-readable error code when it sends one.
func FromStatus(status int, code, message string) error {
	switch {
	case status == http.StatusTooManyRequests, code == "insufficient_quota":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrInferenceTimeout, message)
	case status >= 500:
		return fmt.Errorf("%w (status %d): %s", ErrProviderUnavailable, status, message)
	default:
		return fmt.Errorf("api error (status %d): %s", status, strings.TrimSpace(message))
	}
}

// FromTransport classifies an error returned before any response arrived.
func FromTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
