package vllm

import (
	"context"
	"strings"

	"github.com/carhelperai/carhelper/internal/ai/compat"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/pkg/models"
)

// Provider implements models.CompletionProvider using a vLLM OpenAI-compatible server.
type Provider struct {
	cfg    config.VLLMConfig
	client *compat.Client
}

func NewProvider(cfg config.VLLMConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: compat.NewClient(strings.TrimRight(cfg.BaseURL, "/")+"/v1", "", cfg.Model),
	}
}

func (p *Provider) Name() string { return "vllm" }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	return p.client.Complete(ctx, req)
}

var _ models.CompletionProvider = (*Provider)(nil)
