// Package llms provides the LLM provider abstraction used by the
// planner, resolvers, and HITL question generation.
package llms

import "context"

// ChatMessage is a single prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles understood by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request describes one completion call.
type Request struct {
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int

	// JSONMode asks the provider to emit a single JSON object.
	JSONMode bool
}

// Response is the provider's completion.
type Response struct {
	Text        string
	TokensUsed  int
	Model       string
	StopReason  string
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Model returns the configured model name.
	Model() string

	// Complete performs a single completion call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Close releases provider resources.
	Close() error
}

// apiError is a provider-side error payload.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
