package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wardenlabs/warden/internal/ai"
	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/history"
	"github.com/wardenlabs/warden/internal/inflight"
	"github.com/wardenlabs/warden/internal/logging"
	"github.com/wardenlabs/warden/internal/memstore"
	"github.com/wardenlabs/warden/internal/platform"
)

func TestMain(m *testing.M) {
	logging.Disable()
	os.Exit(m.Run())
}

type sentMessage struct {
	ID        string
	ChannelID string
	Content   string
}

// fakeClient records sends and edits.
type fakeClient struct {
	mu    sync.Mutex
	next  int
	sent  []sentMessage
	edits map[string]string // message id -> last content
}

func newFakeClient() *fakeClient {
	return &fakeClient{edits: make(map[string]string)}
}

func (f *fakeClient) SendMessage(ctx context.Context, channelID, content string) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("msg-%d", f.next)
	f.sent = append(f.sent, sentMessage{ID: id, ChannelID: channelID, Content: content})
	return &platform.Message{ID: id, ChannelID: channelID, Content: content}, nil
}

func (f *fakeClient) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = content
	return nil
}

func (f *fakeClient) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	return &platform.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeClient) FetchChannel(ctx context.Context, channelID string) (*platform.Channel, error) {
	return &platform.Channel{ID: channelID, Name: "general"}, nil
}

func (f *fakeClient) SetChannelName(ctx context.Context, channelID, name string) error {
	return nil
}

func (f *fakeClient) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeClient) editOf(messageID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[messageID]
}

// fakeProvider streams fixed chunks.
type fakeProvider struct {
	chunks []string
	err    error
}

func (p *fakeProvider) ID() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	events := make(chan ai.StreamEvent, len(p.chunks)+1)
	if p.err != nil {
		events <- ai.StreamEvent{Type: ai.EventTypeError, Error: p.err}
	} else {
		for _, c := range p.chunks {
			events <- ai.StreamEvent{Type: ai.EventTypeText, Text: c}
		}
		events <- ai.StreamEvent{Type: ai.EventTypeDone}
	}
	close(events)
	return events, nil
}

func newTestBot(t *testing.T, client platform.Client, provider ai.Provider) *Bot {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	hist, err := history.Open(filepath.Join(cfg.DataDir, "test.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	registry := inflight.NewRegistry(client, cfg.InFlightLogPath())
	t.Cleanup(registry.Close)

	return New(cfg, client, registry, hist, provider)
}

func TestRespondStreamsReplyIntoPlaceholder(t *testing.T) {
	client := newFakeClient()
	provider := &fakeProvider{chunks: []string{"Hello", ", ", "world."}}
	b := newTestBot(t, client, provider)

	in := platform.Inbound{ChannelID: "c1", MessageID: "u1", AuthorID: "alice", Content: "hi"}
	if err := b.respond(context.Background(), "discord:guild:c1", in); err != nil {
		t.Fatalf("respond: %v", err)
	}

	ph := client.lastSent()
	if ph.Content != placeholder {
		t.Fatalf("placeholder content = %q", ph.Content)
	}
	if got := client.editOf(ph.ID); got != "Hello, world." {
		t.Fatalf("final edit = %q, want full reply", got)
	}
	if got := b.registry.Count(); got != 0 {
		t.Fatalf("registry count after respond = %d, want 0", got)
	}

	sess, err := b.history.GetOrCreate("discord:guild:c1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := b.history.Recent(sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("transcript = %v", msgs)
	}
	if msgs[1].Content != "Hello, world." {
		t.Fatalf("assistant transcript = %q", msgs[1].Content)
	}
}

func TestRespondProviderErrorSurfacesNotice(t *testing.T) {
	client := newFakeClient()
	provider := &fakeProvider{err: fmt.Errorf("model unavailable")}
	b := newTestBot(t, client, provider)

	in := platform.Inbound{ChannelID: "c1", MessageID: "u1", AuthorID: "alice", Content: "hi"}
	if err := b.respond(context.Background(), "discord:guild:c1", in); err == nil {
		t.Fatal("expected error")
	}

	ph := client.lastSent()
	if got := client.editOf(ph.ID); !strings.Contains(got, "went wrong") {
		t.Fatalf("placeholder left as %q after provider failure", got)
	}
	if got := b.registry.Count(); got != 0 {
		t.Fatalf("registry count = %d, entry leaked on error path", got)
	}
}

func TestRespondDuringDrainDoesNoWork(t *testing.T) {
	client := newFakeClient()
	provider := &fakeProvider{chunks: []string{"never"}}
	b := newTestBot(t, client, provider)

	b.registry.Drain(context.Background(), 0)

	in := platform.Inbound{ChannelID: "c1", MessageID: "u1", AuthorID: "alice", Content: "hi"}
	if err := b.respond(context.Background(), "discord:guild:c1", in); err != nil {
		t.Fatalf("respond during drain: %v", err)
	}

	ph := client.lastSent()
	if got := client.editOf(ph.ID); got != inflight.NoticeDrained {
		t.Fatalf("late placeholder = %q, want drain notice", got)
	}

	// No transcript rows were written for the abandoned turn.
	sess, _ := b.history.GetOrCreate("discord:guild:c1")
	msgs, _ := b.history.Recent(sess.ID, 0)
	if len(msgs) != 0 {
		t.Fatalf("transcript has %d rows for a drained turn", len(msgs))
	}
}

func TestRememberAndForgetCommands(t *testing.T) {
	client := newFakeClient()
	b := newTestBot(t, client, &fakeProvider{})

	in := platform.Inbound{ChannelID: "c1", AuthorID: "alice", Content: "remember preference: prefers terse answers"}
	if err := b.respond(context.Background(), "discord:dm:c1", in); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if ack := client.lastSent().Content; !strings.Contains(ack, "preference") {
		t.Fatalf("ack = %q", ack)
	}

	store, err := memstore.Load(b.cfg.MemoryDir(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Items) != 1 || store.Items[0].Kind != memstore.KindPreference {
		t.Fatalf("stored items = %+v", store.Items)
	}

	in.Content = "forget: prefers terse answers"
	if err := b.respond(context.Background(), "discord:dm:c1", in); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if ack := client.lastSent().Content; ack != "Forgotten." {
		t.Fatalf("forget ack = %q", ack)
	}

	store, _ = memstore.Load(b.cfg.MemoryDir(), "alice")
	if store.Items[0].Status != memstore.StatusDeprecated {
		t.Fatal("item not deprecated after forget")
	}
}

func TestSystemPromptCarriesMemory(t *testing.T) {
	client := newFakeClient()
	b := newTestBot(t, client, &fakeProvider{})
	b.cfg.Provider.System = "You are terse."

	store := memstore.NewStore()
	store.Add("prefers dark mode", "user", 0, memstore.KindPreference)
	if err := memstore.Save(b.cfg.MemoryDir(), "alice", store); err != nil {
		t.Fatal(err)
	}

	prompt := b.systemPrompt("alice")
	if !strings.HasPrefix(prompt, "You are terse.") {
		t.Fatalf("base prompt missing: %q", prompt)
	}
	if !strings.Contains(prompt, "- (preference) prefers dark mode") {
		t.Fatalf("memory missing from prompt: %q", prompt)
	}

	// No memory on file: prompt is just the base.
	if got := b.systemPrompt("bob"); got != "You are terse." {
		t.Fatalf("prompt for memoryless user = %q", got)
	}
}

func TestScheduledJobSerializesWithLiveTraffic(t *testing.T) {
	client := newFakeClient()
	b := newTestBot(t, client, &fakeProvider{})

	// Occupy the channel's session key so the job has to queue behind it.
	entered := make(chan struct{})
	release := make(chan struct{})
	go b.queue.Run(context.Background(), "discord:guild:c1", func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	jobDone := make(chan struct{})
	go func() {
		b.runJob(config.JobConfig{Name: "standup", ChannelID: "c1", Message: "daily standup"})
		close(jobDone)
	}()

	select {
	case <-jobDone:
		t.Fatal("job ran while the conversation handler held the key")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-jobDone:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran after the key was released")
	}
	if got := client.lastSent(); got.ChannelID != "c1" || got.Content != "daily standup" {
		t.Fatalf("job posted %+v", got)
	}
}

func TestParseRemember(t *testing.T) {
	tests := []struct {
		in   string
		kind memstore.Kind
		text string
		ok   bool
	}{
		{"remember: likes go", memstore.KindFact, "likes go", true},
		{"Remember: likes go", memstore.KindFact, "likes go", true},
		{"remember preference: dark mode", memstore.KindPreference, "dark mode", true},
		{"remember decision: use sqlite", memstore.KindDecision, "use sqlite", true},
		{"remember style: no emoji", memstore.KindStyle, "no emoji", true},
		{"remember:", "", "", false},
		{"remember me", "", "", false},
		{"just a message", "", "", false},
	}
	for _, tt := range tests {
		kind, text, ok := parseRemember(tt.in)
		if ok != tt.ok || kind != tt.kind || text != tt.text {
			t.Errorf("parseRemember(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, kind, text, ok, tt.kind, tt.text, tt.ok)
		}
	}
}

func TestParseForget(t *testing.T) {
	if text, ok := parseForget("forget: dark mode"); !ok || text != "dark mode" {
		t.Errorf("parseForget = (%q, %v)", text, ok)
	}
	if _, ok := parseForget("forget:"); ok {
		t.Error("empty forget accepted")
	}
	if _, ok := parseForget("forgetful message"); ok {
		t.Error("non-command accepted")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	got := truncate(strings.Repeat("a", 30), 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate long = %q", got)
	}
	// Multi-byte input must not be split mid-rune.
	got = truncate(strings.Repeat("é", 30), 10)
	if len([]rune(got)) != 10 {
		t.Errorf("truncate multibyte = %q (%d runes)", got, len([]rune(got)))
	}
}
