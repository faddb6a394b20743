// Package compat talks to any endpoint that speaks the OpenAI chat completions
// protocol (Ollama, vLLM, LocalAI, Azure deployments).
package compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carhelperai/carhelper/internal/ai/aierr"
	"github.com/carhelperai/carhelper/pkg/models"
)

// Client is a minimal chat completions client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewClient creates a client for baseURL, which must include the API version
// prefix (e.g. "http://localhost:11434/v1").
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{},
	}
}

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []models.ChatTurn `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      models.ChatTurn `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (e *apiError) code() string {
	if s, ok := e.Code.(string); ok {
		return s
	}
	return ""
}

// Complete sends one non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	msgs := make([]models.ChatTurn, 0, len(req.Turns)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, models.ChatTurn{Role: models.RoleSystem, Content: req.SystemPrompt})
	}
	msgs = append(msgs, req.Turns...)

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return models.CompletionResponse{}, aierr.FromTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CompletionResponse{}, aierr.FromTransport(ctx, err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode != http.StatusOK {
		msg, code := string(respBody), ""
		if decodeErr == nil && out.Error != nil {
			msg, code = out.Error.Message, out.Error.code()
		}
		return models.CompletionResponse{}, aierr.FromStatus(resp.StatusCode, code, msg)
	}
	if decodeErr != nil {
		return models.CompletionResponse{}, fmt.Errorf("%w: %v", aierr.ErrInvalidResponse, decodeErr)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return models.CompletionResponse{}, fmt.Errorf("%w: no content in response", aierr.ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return models.CompletionResponse{
		Text:       out.Choices[0].Message.Content,
		TokensUsed: out.Usage.TotalTokens,
		Model:      model,
	}, nil
}
