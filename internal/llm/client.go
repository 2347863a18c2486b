// Package llm is the chat capability the summarizer consumes. Providers are
// interchangeable behind Client.
package llm

import "context"

// Role represents a message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest contains parameters for a chat call.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// ChatResponse contains the model's reply.
type ChatResponse struct {
	Content string `json:"content"`
}

// Client sends chat requests to a model.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
