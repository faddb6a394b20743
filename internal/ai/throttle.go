package ai

import (
	"context"
	"fmt"
	"math"

	"github.com/carhelperai/carhelper/pkg/models"
	"golang.org/x/time/rate"
)

// Throttled caps the outbound request rate to an upstream provider. Waiting
// callers give up when their context ends.
type Throttled struct {
	next    models.CompletionProvider
	limiter *rate.Limiter
}

func NewThrottled(next models.CompletionProvider, perSecond float64) *Throttled {
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Name() string { return t.next.Name() }

func (t *Throttled) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return models.CompletionResponse{}, fmt.Errorf("%w: waiting for provider slot: %v", ErrInferenceTimeout, err)
	}
	return t.next.Complete(ctx, req)
}

var _ models.CompletionProvider = (*Throttled)(nil)
