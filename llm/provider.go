// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for the reasoning service.
// Each provider implementation hides:
// - API client initialization and authentication
// - Conversion between content blocks and the vendor wire format
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for tool-calling chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// ChatWithTools sends the conversation plus tool declarations.
	// The response carries either final text or one or more tool calls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error)
}
