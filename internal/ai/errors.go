package ai

import "github.com/carhelperai/carhelper/internal/ai/aierr"

var (
	ErrProviderNotConfigured = aierr.ErrProviderNotConfigured
	ErrProviderUnavailable   = aierr.ErrProviderUnavailable
	ErrInferenceTimeout      = aierr.ErrInferenceTimeout
	ErrInvalidResponse       = aierr.ErrInvalidResponse
	ErrQuotaExceeded         = aierr.ErrQuotaExceeded
)
