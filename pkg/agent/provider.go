package agent

import (
	"context"
	"fmt"
	"strings"
)

// LLMProvider is the boundary to a chat-completion style model API. The
// engine drives it one turn at a time; a response either carries final text
// or a set of tool calls the caller must answer before the next turn.
type LLMProvider interface {
	// Call makes a single model API call.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name.
	Provider() string
}

// Message is one turn of a model conversation. Role is one of
// "user", "assistant", or "tool" (a tool result correlated by ToolCallID).
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolSpec describes a tool exposed to the model. InputSchema is a JSON
// Schema object ("type", "properties", "required").
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMRequest contains the request parameters for one model call.
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
}

// LLMResponse contains the model's reply for one call.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// NewProvider creates a provider by name.
func NewProvider(provider, apiKey string) (LLMProvider, error) {
	switch provider {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// IsRetryableError reports whether a provider error is worth retrying:
// network resets, rate limits, and 5xx server faults.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
