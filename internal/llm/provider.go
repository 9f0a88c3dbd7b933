// Package llm provides the generative backend integration layer.
package llm

import "context"

// Message is one entry of an ordered chat history.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is a single synchronous round trip to the backend.
type ChatRequest struct {
	Messages  []Message
	MaxTokens int
}

// ChatResponse carries the backend output plus usage accounting.
type ChatResponse struct {
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Provider is the backend interface the generation pipeline talks to.
// A call either completes or fails outright; transport failures are not
// retried here. Retry policy, if any, belongs to the caller.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
