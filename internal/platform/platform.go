// Package platform defines the boundary to the chat platform. The rest of
// the codebase talks to the Client interface; the discordgo adapter is the
// only place that knows about Discord's REST API.
package platform

import (
	"context"
	"fmt"
	"time"
)

// Message is a read-only snapshot of a platform message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}

// Channel is a read-only snapshot of a platform channel.
type Channel struct {
	ID   string
	Name string
}

// Client is the set of platform operations the bot depends on. Every call
// may fail with a generic error; SetChannelName may additionally fail with
// *RateLimitError when the platform throttles the mutation.
type Client interface {
	// SendMessage posts a new message and returns its snapshot.
	SendMessage(ctx context.Context, channelID, content string) (*Message, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, channelID, messageID, content string) error

	// FetchMessage retrieves a message by id.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// FetchChannel retrieves a channel by id.
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)

	// SetChannelName renames a channel. Subject to a platform-side
	// mutation-frequency ceiling.
	SetChannelName(ctx context.Context, channelID, name string) error
}

// RateLimitError is returned when the platform rejects a mutation and tells
// us when to try again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
