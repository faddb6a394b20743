// Package models contains shared data models used across the CarHelper codebase.
package models

import "context"

// Chat roles understood by every completion provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionProvider is the core interface that all AI integrations must implement.
// Services depend on this interface, never on a concrete provider.
type CompletionProvider interface {
	// Complete sends the system prompt and turns and returns generated text plus token usage.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
}

// ChatTurn is one message of a prompt sent to a completion provider.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single completion call.
type CompletionRequest struct {
	SystemPrompt string
	Turns        []ChatTurn
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse is the output of a single completion call.
type CompletionResponse struct {
	Text       string
	TokensUsed int
	Model      string
}
