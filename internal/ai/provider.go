// Package ai is the boundary to the LLM runtime. The bot depends on the
// Provider interface; concrete providers live alongside it.
package ai

import "context"

// Message is one turn of a conversation sent to the provider.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// EventType defines the type of streaming event
type EventType string

const (
	EventTypeText  EventType = "text"
	EventTypeError EventType = "error"
	EventTypeDone  EventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type  EventType
	Text  string
	Error error
}

// ChatRequest represents a request to the provider
type ChatRequest struct {
	Messages  []Message
	System    string
	Model     string // Model override; empty uses the provider default
	MaxTokens int
}

// Provider interface for LLM providers
type Provider interface {
	// ID returns the provider identifier (e.g., "anthropic")
	ID() string

	// Stream sends a request and returns a channel of streaming events
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}
