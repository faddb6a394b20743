package ai_test

import (
	"context"
	"testing"
	"time"

	"github.com/carhelperai/carhelper/internal/ai"
	"github.com/carhelperai/carhelper/internal/ai/mock"
	"github.com/carhelperai/carhelper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottled_PassesThrough(t *testing.T) {
	inner := mock.NewMockProvider("{}")
	p := ai.NewThrottled(inner, 10)

	resp, err := p.Complete(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	assert.Equal(t, 1, inner.Calls())
}

func TestThrottled_ContextEndsWhileWaiting(t *testing.T) {
	inner := mock.NewMockProvider("{}")
	p := ai.NewThrottled(inner, 0.01)

	_, err := p.Complete(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Complete(ctx, models.CompletionRequest{})
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.Equal(t, 1, inner.Calls())
}
