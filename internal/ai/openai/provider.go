package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carhelperai/carhelper/internal/ai/aierr"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/pkg/models"
	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Provider implements models.CompletionProvider using the OpenAI SDK.
type Provider struct {
	cfg    config.OpenAIConfig
	client sdk.Client
}

// NewProvider builds an SDK client with retries disabled; a failed attempt is
// reported to the caller as-is.
func NewProvider(cfg config.OpenAIConfig) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{cfg: cfg, client: sdk.NewClient(opts...)}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.Turns {
		if turn.Role == models.RoleAssistant {
			msgs = append(msgs, sdk.AssistantMessage(turn.Content))
			continue
		}
		msgs = append(msgs, sdk.UserMessage(turn.Content))
	}

	params := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(p.cfg.Model),
		Messages:    msgs,
		Temperature: sdk.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.CompletionResponse{}, classify(ctx, err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return models.CompletionResponse{}, fmt.Errorf("%w: no content in response", aierr.ErrInvalidResponse)
	}

	return models.CompletionResponse{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
		Model:      completion.Model,
	}, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return aierr.FromStatus(apiErr.StatusCode, apiErr.Code, apiErr.Message)
	}
	return aierr.FromTransport(ctx, err)
}

var _ models.CompletionProvider = (*Provider)(nil)
