package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carhelperai/carhelper/internal/ai/aierr"
	"github.com/carhelperai/carhelper/internal/config"
	"github.com/carhelperai/carhelper/pkg/models"
)

const apiVersion = "2023-06-01"

// Provider implements models.CompletionProvider using the Anthropic Messages API.
type Provider struct {
	cfg  config.AnthropicConfig
	http *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{cfg: cfg, http: &http.Client{}}
}

func (p *Provider) Name() string { return "anthropic" }

type messagesRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	System      string            `json:"system,omitempty"`
	Messages    []models.ChatTurn `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body, err := json.Marshal(messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    mergeTurns(req.Turns),
	})
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return models.CompletionResponse{}, aierr.FromTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CompletionResponse{}, aierr.FromTransport(ctx, err)
	}

	var out messagesResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode != http.StatusOK {
		msg, code := string(respBody), ""
		if decodeErr == nil && out.Error != nil {
			msg, code = out.Error.Message, out.Error.Type
		}
		if code == "overloaded_error" {
			return models.CompletionResponse{}, fmt.Errorf("%w: %s", aierr.ErrProviderUnavailable, msg)
		}
		return models.CompletionResponse{}, aierr.FromStatus(resp.StatusCode, code, msg)
	}
	if decodeErr != nil {
		return models.CompletionResponse{}, fmt.Errorf("%w: %v", aierr.ErrInvalidResponse, decodeErr)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.CompletionResponse{}, fmt.Errorf("%w: no text content in response", aierr.ErrInvalidResponse)
	}

	return models.CompletionResponse{
		Text:       text.String(),
		TokensUsed: out.Usage.InputTokens + out.Usage.OutputTokens,
		Model:      out.Model,
	}, nil
}

// mergeTurns joins consecutive turns of the same role; the Messages API expects
// user and assistant turns to alternate.
func mergeTurns(turns []models.ChatTurn) []models.ChatTurn {
	merged := make([]models.ChatTurn, 0, len(turns))
	for _, t := range turns {
		role := models.RoleUser
		if t.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Content += "\n\n" + t.Content
			continue
		}
		merged = append(merged, models.ChatTurn{Role: role, Content: t.Content})
	}
	return merged
}

var _ models.CompletionProvider = (*Provider)(nil)
