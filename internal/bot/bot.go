// Package bot wires the platform boundary to the conversation queue, the
// in-flight registry, the LLM provider, transcripts, durable memory, and
// label sync. It owns the lifecycle of one running bot instance.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardenlabs/warden/internal/ai"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/history"
	"github.com/wardenlabs/warden/internal/inflight"
	"github.com/wardenlabs/warden/internal/labelsync"
	"github.com/wardenlabs/warden/internal/logging"
	"github.com/wardenlabs/warden/internal/memstore"
	"github.com/wardenlabs/warden/internal/platform"
	"github.com/wardenlabs/warden/internal/scheduler"
	"github.com/wardenlabs/warden/internal/session"
)

const (
	// placeholder is posted immediately so the user gets an anchor message
	// that streaming edits and shutdown notices can target.
	placeholder = "_Thinking…_"

	// editEvery throttles streaming edits of the placeholder.
	editEvery = 1500 * time.Millisecond

	// maxMessageLen is Discord's hard content limit.
	maxMessageLen = 2000
)

// Bot is one running instance. Construct with New, start with Start, and
// shut down with Shutdown.
type Bot struct {
	cfg      *config.Config
	client   platform.Client
	queue    *session.Queue
	registry *inflight.Registry
	history  *history.Manager
	provider ai.Provider
	sched    *scheduler.Scheduler
	syncers  map[string]*labelsync.Syncer

	log logging.ComponentLogger
}

// New assembles a bot from its collaborators.
func New(cfg *config.Config, client platform.Client, registry *inflight.Registry, hist *history.Manager, provider ai.Provider) *Bot {
	return &Bot{
		cfg:      cfg,
		client:   client,
		queue:    session.NewQueue(),
		registry: registry,
		history:  hist,
		provider: provider,
		sched:    scheduler.New(),
		syncers:  make(map[string]*labelsync.Syncer),
		log:      logging.For("Bot"),
	}
}

// Start arms label syncers for the configured channels and registers the
// configured cron jobs. Inbound messages must be routed to HandleInbound by
// the caller.
func (b *Bot) Start() error {
	for _, channelID := range b.cfg.Labels.Channels {
		opts := []labelsync.Option{}
		if b.cfg.Labels.DebounceSeconds > 0 {
			opts = append(opts, labelsync.WithDebounce(time.Duration(b.cfg.Labels.DebounceSeconds)*time.Second))
		}
		if b.cfg.Labels.MinIntervalSeconds > 0 {
			opts = append(opts, labelsync.WithMinInterval(time.Duration(b.cfg.Labels.MinIntervalSeconds)*time.Second))
		}
		id := channelID
		b.syncers[id] = labelsync.New(b.client, id, func(ctx context.Context) (int, error) {
			return b.history.CountSessions(id)
		}, opts...)
	}

	for _, job := range b.cfg.Jobs {
		j := job
		err := b.sched.Add(j.Name, j.Schedule, func() {
			b.runJob(j)
		})
		if err != nil {
			return err
		}
	}
	b.sched.Start()
	return nil
}

// runJob posts a scheduled message through the channel's session queue so
// it serializes with live conversation handlers.
func (b *Bot) runJob(job config.JobConfig) {
	key := session.BuildKey("discord", "guild", job.ChannelID)
	err := b.queue.Run(context.Background(), key, func(ctx context.Context) error {
		_, err := b.client.SendMessage(ctx, job.ChannelID, job.Message)
		return err
	})
	if err != nil {
		b.log.Errorf("job %q failed: %v", job.Name, err)
	}
}

// HandleInbound routes one received message onto its session queue. Returns
// immediately; the handler runs in the key's worker.
func (b *Bot) HandleInbound(in platform.Inbound) {
	if b.cfg.Discord.GuildID != "" && !in.DM && in.GuildID != b.cfg.Discord.GuildID {
		return
	}
	chatType := "guild"
	if in.DM {
		chatType = "dm"
	}
	key := session.BuildKey("discord", chatType, in.ChannelID)
	if key == "" {
		return
	}

	go func() {
		err := b.queue.Run(context.Background(), key, func(ctx context.Context) error {
			return b.respond(ctx, key, in)
		})
		if err != nil {
			b.log.Errorf("handler for %s failed: %v", key, err)
		}
	}()
}

// respond handles one user message end to end. Runs inside the session
// queue, so at most one respond per key is ever in flight.
func (b *Bot) respond(ctx context.Context, key string, in platform.Inbound) error {
	if kind, text, ok := parseRemember(in.Content); ok {
		return b.remember(ctx, in, kind, text)
	}
	if text, ok := parseForget(in.Content); ok {
		return b.forget(ctx, in, text)
	}

	msg, err := b.client.SendMessage(ctx, in.ChannelID, placeholder)
	if err != nil {
		return fmt.Errorf("failed to post placeholder: %w", err)
	}
	dispose := b.registry.Register(ctx, in.ChannelID, msg.ID, key)
	defer dispose()
	if b.registry.IsShuttingDown() {
		// Register already finalized the placeholder with the drain
		// notice; do no further work on this handle.
		return nil
	}

	sess, err := b.history.GetOrCreate(key)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	if err := b.history.Append(sess.ID, history.Message{Role: "user", Content: in.Content}); err != nil {
		b.log.Warnf("failed to record user message: %v", err)
	}

	reply, streamErr := b.stream(ctx, sess.ID, in, msg.ID)
	if streamErr != nil {
		b.log.Errorf("stream failed for %s: %v", key, streamErr)
		if !b.registry.IsShuttingDown() {
			_ = b.client.EditMessage(ctx, in.ChannelID, msg.ID, "*Something went wrong — please try again.*")
		}
		return streamErr
	}

	if !b.registry.IsShuttingDown() {
		if err := b.client.EditMessage(ctx, in.ChannelID, msg.ID, truncate(reply, maxMessageLen)); err != nil {
			b.log.Warnf("failed to finalize reply %s/%s: %v", in.ChannelID, msg.ID, err)
		}
	}

	if err := b.history.Append(sess.ID, history.Message{Role: "assistant", Content: reply}); err != nil {
		b.log.Warnf("failed to record assistant message: %v", err)
	}

	if syncer, ok := b.syncers[in.ChannelID]; ok {
		syncer.RequestUpdate()
	}
	return nil
}

// stream runs one provider round trip, editing the placeholder with partial
// text as it accumulates. Returns the full reply text.
func (b *Bot) stream(ctx context.Context, sessionID string, in platform.Inbound, placeholderID string) (string, error) {
	msgs, err := b.history.Recent(sessionID, b.cfg.MaxContext)
	if err != nil {
		return "", fmt.Errorf("failed to load transcript: %w", err)
	}
	req := &ai.ChatRequest{
		Messages: toProviderMessages(msgs),
		System:   b.systemPrompt(in.AuthorID),
		Model:    b.cfg.Provider.Model,
	}

	events, err := b.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	lastEdit := time.Now()
	for ev := range events {
		switch ev.Type {
		case ai.EventTypeText:
			buf.WriteString(ev.Text)
			if time.Since(lastEdit) >= editEvery && buf.Len() > 0 && !b.registry.IsShuttingDown() {
				// Best effort; the final edit carries the full text.
				_ = b.client.EditMessage(ctx, in.ChannelID, placeholderID, truncate(buf.String(), maxMessageLen))
				lastEdit = time.Now()
			}
		case ai.EventTypeError:
			return "", ev.Error
		case ai.EventTypeDone:
			if buf.Len() == 0 {
				return "*I have nothing to add.*", nil
			}
			return buf.String(), nil
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("stream closed without content")
	}
	return buf.String(), nil
}

// systemPrompt combines the configured base prompt with the user's durable
// memory, bounded by the injection character budget.
func (b *Bot) systemPrompt(userID string) string {
	system := b.cfg.Provider.System
	store, err := memstore.Load(b.cfg.MemoryDir(), userID)
	if err != nil {
		b.log.Warnf("failed to load memory for %s: %v", userID, err)
		return system
	}
	items := store.SelectForInjection(b.cfg.Memory.InjectChars)
	if len(items) == 0 {
		return system
	}
	block := "Known facts about this user:\n" + memstore.FormatInjection(items)
	if system == "" {
		return block
	}
	return system + "\n\n" + block
}

// remember stores one durable fact for the author and acknowledges it.
func (b *Bot) remember(ctx context.Context, in platform.Inbound, kind memstore.Kind, text string) error {
	store, err := memstore.Load(b.cfg.MemoryDir(), in.AuthorID)
	if err != nil {
		return err
	}
	store.Add(text, "user", b.cfg.Memory.MaxItems, kind)
	if err := memstore.Save(b.cfg.MemoryDir(), in.AuthorID, store); err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}
	_, err = b.client.SendMessage(ctx, in.ChannelID, fmt.Sprintf("Noted (%s).", kind))
	return err
}

// forget deprecates matching facts and reports how many were affected.
func (b *Bot) forget(ctx context.Context, in platform.Inbound, text string) error {
	store, err := memstore.Load(b.cfg.MemoryDir(), in.AuthorID)
	if err != nil {
		return err
	}
	n := store.Deprecate(text)
	if n > 0 {
		if err := memstore.Save(b.cfg.MemoryDir(), in.AuthorID, store); err != nil {
			return fmt.Errorf("failed to save memory: %w", err)
		}
	}
	reply := "I couldn't find a matching memory."
	if n == 1 {
		reply = "Forgotten."
	} else if n > 1 {
		reply = fmt.Sprintf("Forgot %d memories.", n)
	}
	_, err = b.client.SendMessage(ctx, in.ChannelID, reply)
	return err
}

// Shutdown stops schedulers and syncers, drains the in-flight registry, and
// releases its durable log. Bounded by the configured drain timeout.
func (b *Bot) Shutdown(ctx context.Context) {
	b.sched.Stop()
	for _, s := range b.syncers {
		s.Stop()
	}
	timeout := time.Duration(b.cfg.DrainTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b.registry.Drain(ctx, timeout)
	b.registry.Close()
}

// parseRemember matches the "remember[ <kind>]: <text>" operator command.
func parseRemember(content string) (memstore.Kind, string, bool) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "remember") {
		return "", "", false
	}
	rest := trimmed[len("remember"):]
	kind := memstore.KindFact
	for _, k := range []memstore.Kind{memstore.KindPreference, memstore.KindFact, memstore.KindDecision, memstore.KindStyle} {
		prefix := " " + string(k)
		if strings.HasPrefix(strings.ToLower(rest), prefix) {
			kind = k
			rest = rest[len(prefix):]
			break
		}
	}
	if !strings.HasPrefix(rest, ":") {
		return "", "", false
	}
	text := strings.TrimSpace(rest[1:])
	if text == "" {
		return "", "", false
	}
	return kind, text, true
}

// parseForget matches the "forget: <text>" operator command.
func parseForget(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "forget:") {
		return "", false
	}
	text := strings.TrimSpace(trimmed[len("forget:"):])
	if text == "" {
		return "", false
	}
	return text, true
}

// toProviderMessages converts transcript rows to provider turns.
func toProviderMessages(msgs []history.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// truncate cuts s to at most n characters, replacing the tail with an
// ellipsis when cut. Discord counts characters, not bytes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n < 1 {
		return ""
	}
	return string(runes[:n-1]) + "…"
}
