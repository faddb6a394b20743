package ollama

import (
	"context"
	"strings"

	"github.com/carhelperai/carhelper/internal/ai/compat"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/pkg/models"
)

// Provider implements models.CompletionProvider using Ollama's OpenAI-compatible endpoint.
type Provider struct {
	cfg    config.OllamaConfig
	client *compat.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: compat.NewClient(strings.TrimRight(cfg.BaseURL, "/")+"/v1", "", cfg.Model),
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	return p.client.Complete(ctx, req)
}

var _ models.CompletionProvider = (*Provider)(nil)
