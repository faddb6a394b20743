package ai

import (
	"fmt"

	"github.com/carhelperai/carhelper/internal/ai/anthropic"
	"github.com/carhelperai/carhelper/internal/ai/ollama"
	"github.com/carhelperai/carhelper/internal/ai/openai"
	"github.com/carhelperai/carhelper/internal/ai/vllm"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/pkg/models"
)

// NewProvider constructs the completion provider selected by config.
// Called once at server startup. An empty provider yields ErrProviderNotConfigured
// so callers can keep serving placeholder diagnoses.
func NewProvider(cfg config.AIConfig) (models.CompletionProvider, error) {
	var p models.CompletionProvider
	switch cfg.Provider {
	case "":
		return nil, ErrProviderNotConfigured
	case "ollama":
		p = ollama.NewProvider(cfg.Ollama)
	case "vllm":
		p = vllm.NewProvider(cfg.VLLM)
	case "openai":
		p = openai.NewProvider(cfg.OpenAI)
	case "anthropic":
		p = anthropic.NewProvider(cfg.Anthropic)
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		p = NewThrottled(p, cfg.RequestsPerSecond)
	}
	return p, nil
}
