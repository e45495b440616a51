package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Compile-time check: Discord implements Client
var _ Client = (*Discord)(nil)

// Discord implements Client on top of a discordgo session. Outbound REST
// calls are paced with a token bucket so bursts of handler activity don't
// trip Discord's global limit before discordgo's own retry kicks in.
type Discord struct {
	session *discordgo.Session
	limiter *rate.Limiter
}

// NewDiscord wraps an open discordgo session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session: session,
		// Discord's global ceiling is 50 req/s; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(20), 10),
	}
}

// Connect creates and opens a discordgo session for the given bot token.
func Connect(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord connection: %w", err)
	}
	return session, nil
}

// SendMessage posts a new message to a channel.
func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	msg, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapDiscordErr(err)
	}
	return &Message{ID: msg.ID, ChannelID: msg.ChannelID, Content: msg.Content}, nil
}

// EditMessage replaces the content of an existing message.
func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return wrapDiscordErr(err)
}

// FetchMessage retrieves a message snapshot by id.
func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	msg, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapDiscordErr(err)
	}
	return &Message{ID: msg.ID, ChannelID: msg.ChannelID, Content: msg.Content}, nil
}

// FetchChannel retrieves a channel snapshot by id.
func (d *Discord) FetchChannel(ctx context.Context, channelID string) (*Channel, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapDiscordErr(err)
	}
	return &Channel{ID: ch.ID, Name: ch.Name}, nil
}

// SetChannelName renames a channel. Discord throttles this hard (2 renames
// per 10 minutes per channel), so callers must go through labelsync.
func (d *Discord) SetChannelName(ctx context.Context, channelID, name string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx))
	return wrapDiscordErr(err)
}

// Inbound is a platform-neutral view of a received message.
type Inbound struct {
	ChannelID  string
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
	GuildID    string // empty for direct messages
	DM         bool
}

// OnMessage registers fn for every user-authored message. Messages from the
// bot itself and from other bots are dropped here so handlers never see
// their own output.
func (d *Discord) OnMessage(fn func(Inbound)) {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		fn(Inbound{
			ChannelID:  m.ChannelID,
			MessageID:  m.ID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Content:    m.Content,
			GuildID:    m.GuildID,
			DM:         m.GuildID == "",
		})
	})
}

// Close closes the underlying gateway connection.
func (d *Discord) Close() error {
	return d.session.Close()
}

// wrapDiscordErr converts discordgo's rate-limit error into the structured
// form the rest of the codebase branches on.
func wrapDiscordErr(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return &RateLimitError{RetryAfter: rl.RetryAfter}
	}
	return err
}
