package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates a single completion for an ordered list of messages.
// The model is fixed when the provider is built by its factory.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}
