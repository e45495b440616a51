// Package inflight tracks placeholder replies that have been sent but not
// yet finalized, so they can be cleaned up on graceful shutdown and
// repaired after a crash.
package inflight

import (
	"context"
	"sync"
	"time"

	"github.com/wardenlabs/warden/internal/logging"
	"github.com/wardenlabs/warden/internal/platform"
)

// User-visible notices. The wording differs deliberately so operators can
// tell a clean shutdown from a crash by reading the leftover message.
const (
	// NoticeDrained replaces placeholders finalized during a graceful
	// shutdown.
	NoticeDrained = "*Interrupted — I'm restarting, please resend your message in a moment.*"

	// NoticeRecovered replaces placeholders found orphaned after an
	// unclean restart.
	NoticeRecovered = "*Interrupted by an unclean restart — please resend your message.*"
)

// Entry is one tracked placeholder reply.
type Entry struct {
	ChannelID string
	MessageID string
	Label     string
}

// DisposeFunc releases a tracked entry. Idempotent.
type DisposeFunc func()

// Registry owns the in-memory entry set, the shutdown flag, and the durable
// log. Construct one per process and pass it by reference; there is no
// package-level state.
type Registry struct {
	client platform.Client
	durlog *Log

	mu           sync.Mutex
	entries      map[string]Entry
	shuttingDown bool

	log logging.ComponentLogger
}

// NewRegistry creates a registry whose durable log lives at logPath.
func NewRegistry(client platform.Client, logPath string) *Registry {
	return &Registry{
		client:  client,
		durlog:  NewLog(logPath),
		entries: make(map[string]Entry),
		log:     logging.For("InFlight"),
	}
}

func entryKey(channelID, messageID string) string {
	return channelID + "/" + messageID
}

// Register tracks a freshly posted placeholder reply and returns its
// disposer. The matching OrphanRecord is persisted best-effort; a persist
// failure never fails registration.
//
// If shutdown has already begun, the placeholder is immediately finalized
// with the drain notice and a no-op disposer is returned — a reply created
// mid-drain must not be silently lost.
func (r *Registry) Register(ctx context.Context, channelID, messageID, label string) DisposeFunc {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		if err := r.client.EditMessage(ctx, channelID, messageID, NoticeDrained); err != nil {
			r.log.Warnf("late register: failed to finalize %s/%s: %v", channelID, messageID, err)
		}
		return func() {}
	}
	key := entryKey(channelID, messageID)
	r.entries[key] = Entry{ChannelID: channelID, MessageID: messageID, Label: label}
	r.mu.Unlock()

	rec := OrphanRecord{ChannelID: channelID, MessageID: messageID}
	r.durlog.Add(rec)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
			r.durlog.Remove(rec)
		})
	}
}

// IsShuttingDown reports whether Drain has begun. Long-running streaming
// callers use this to stop editing a handle once drain has taken it over.
func (r *Registry) IsShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// Count returns the number of tracked entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a copy of the tracked entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Drain finalizes every tracked placeholder for a graceful shutdown: it
// atomically snapshots and clears the registry, flips the shutting-down
// flag, edits every snapshotted handle to the drain notice concurrently,
// and waits until all edits settle or timeout elapses — whichever comes
// first. A hung edit must not block shutdown. The durable log is cleared
// regardless of how many edits succeeded. Safe to call with no entries.
func (r *Registry) Drain(ctx context.Context, timeout time.Duration) {
	r.mu.Lock()
	snapshot := r.entries
	r.entries = make(map[string]Entry)
	r.shuttingDown = true
	r.mu.Unlock()

	if len(snapshot) > 0 {
		r.log.Infof("draining %d in-flight replies", len(snapshot))
		var wg sync.WaitGroup
		for _, e := range snapshot {
			wg.Add(1)
			go func(e Entry) {
				defer wg.Done()
				if err := r.client.EditMessage(ctx, e.ChannelID, e.MessageID, NoticeDrained); err != nil {
					r.log.Warnf("drain: failed to finalize %s/%s: %v", e.ChannelID, e.MessageID, err)
				}
			}(e)
		}
		waitWithTimeout(&wg, timeout)
	}

	r.durlog.Clear()
}

// RecoverOrphans repairs placeholders left behind by an unclean exit of
// the previous process. Each orphan is fetched and edited best-effort;
// individual failures are logged and skipped, never escalated. The whole
// pass is bounded by timeout. Afterwards the durable log is rewritten from
// the live record set, so stale records are dropped while registrations
// made before this call survive.
func (r *Registry) RecoverOrphans(ctx context.Context, timeout time.Duration) {
	orphans := r.durlog.Stale()
	if len(orphans) == 0 {
		r.durlog.Sync()
		return
	}

	r.log.Infof("recovering %d orphaned replies from previous run", len(orphans))

	var wg sync.WaitGroup
	for _, rec := range orphans {
		wg.Add(1)
		go func(rec OrphanRecord) {
			defer wg.Done()
			if _, err := r.client.FetchChannel(ctx, rec.ChannelID); err != nil {
				r.log.Warnf("recover: channel %s unavailable: %v", rec.ChannelID, err)
				return
			}
			if _, err := r.client.FetchMessage(ctx, rec.ChannelID, rec.MessageID); err != nil {
				r.log.Warnf("recover: message %s/%s unavailable: %v", rec.ChannelID, rec.MessageID, err)
				return
			}
			if err := r.client.EditMessage(ctx, rec.ChannelID, rec.MessageID, NoticeRecovered); err != nil {
				r.log.Warnf("recover: failed to edit %s/%s: %v", rec.ChannelID, rec.MessageID, err)
			}
		}(rec)
	}
	waitWithTimeout(&wg, timeout)

	r.durlog.Sync()
}

// Close releases the durable log's worker. Call after Drain.
func (r *Registry) Close() {
	r.durlog.Close()
}

// waitWithTimeout races wg against a timer. Whichever resolves first wins;
// abandoned edits may still land late, which is harmless because the
// registry has already been cleared.
func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
