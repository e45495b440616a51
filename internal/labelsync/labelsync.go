// Package labelsync keeps an externally visible channel label in sync with
// a locally computed count, respecting both a local minimum-interval policy
// and the platform's own rate-limit responses. Discord allows roughly two
// channel renames per ten minutes, so every mutation here is precious.
package labelsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/wardenlabs/warden/internal/logging"
	"github.com/wardenlabs/warden/internal/platform"
)

// Defaults for the debounce window and the minimum time between two
// successful renames of the same channel.
const (
	DefaultDebounce    = 10 * time.Second
	DefaultMinInterval = 5 * time.Minute

	cycleTimeout = 30 * time.Second
)

// CountSeparator joins a base label and its live count.
const CountSeparator = "·"

// Producer recomputes the value that belongs in the label suffix.
type Producer func(ctx context.Context) (int, error)

// state is the syncer's single-timer state machine. Exactly one timer is
// live at a time; every transition cancels and replaces it.
type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateCoolingDown
	stateBackingOff
)

// Syncer owns one rate-limited label. It must be the only writer of that
// label; the single-writer invariant is by convention, one Syncer per
// channel.
type Syncer struct {
	client    platform.Client
	channelID string
	produce   Producer

	debounce    time.Duration
	minInterval time.Duration

	mu           sync.Mutex
	st           state
	timer        *time.Timer
	lastMutation time.Time
	running      bool
	rerun        bool
	stopped      bool

	log logging.ComponentLogger
}

// Option tweaks a Syncer; used by tests to compress the timing.
type Option func(*Syncer)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) { s.debounce = d }
}

// WithMinInterval overrides the minimum inter-mutation interval.
func WithMinInterval(d time.Duration) Option {
	return func(s *Syncer) { s.minInterval = d }
}

// New creates a syncer for one channel's label.
func New(client platform.Client, channelID string, produce Producer, opts ...Option) *Syncer {
	s := &Syncer{
		client:      client,
		channelID:   channelID,
		produce:     produce,
		debounce:    DefaultDebounce,
		minInterval: DefaultMinInterval,
		log:         logging.For("LabelSync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestUpdate notes that the label may be stale. May be called
// arbitrarily often; a burst collapses into a single execution because
// every call resets the debounce timer. Never blocks, never returns an
// error — failures inside the cycle are logged and absorbed.
func (s *Syncer) RequestUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.running {
		// A cycle is mid-flight; run once more after it completes
		// instead of starting a second concurrent cycle.
		s.rerun = true
		return
	}
	if s.st == stateCoolingDown || s.st == stateBackingOff {
		// A deferred execution is already armed and will recompute a
		// fresh value when it fires; resetting it would only delay or
		// (for backoff) violate the platform's retry-after.
		return
	}
	s.schedule(stateDebouncing, s.debounce)
}

// Stop cancels any pending timer; subsequent RequestUpdate calls are
// no-ops. Safe to call multiple times.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelTimer()
	s.st = stateIdle
}

// schedule cancels the live timer and arms a new one. Caller holds mu.
func (s *Syncer) schedule(st state, d time.Duration) {
	s.cancelTimer()
	s.st = st
	s.timer = time.AfterFunc(d, s.fire)
}

// cancelTimer stops the live timer so it can never fire stale. Caller
// holds mu.
func (s *Syncer) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// fire runs when the live timer elapses.
func (s *Syncer) fire() {
	s.mu.Lock()
	if s.stopped || s.running {
		s.mu.Unlock()
		return
	}
	// Local minimum-interval policy: if the last successful mutation is
	// too recent, defer for exactly the remaining time — never drop the
	// request.
	if remaining := s.minInterval - time.Since(s.lastMutation); !s.lastMutation.IsZero() && remaining > 0 {
		s.schedule(stateCoolingDown, remaining)
		s.mu.Unlock()
		return
	}
	s.running = true
	s.st = stateIdle
	s.timer = nil
	s.mu.Unlock()

	s.finish(s.execute())
}

type outcome int

const (
	outcomeDone outcome = iota // success, skip, or abandoned failure
	outcomeMutated
	outcomeRateLimited
)

// execute runs one sync cycle: recompute, re-fetch, compare, mutate.
func (s *Syncer) execute() (outcome, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	value, err := s.produce(ctx)
	if err != nil {
		// No retry scheduled; the next RequestUpdate retries naturally.
		s.log.Errorf("producer failed for %s: %v", s.channelID, err)
		return outcomeDone, 0
	}

	ch, err := s.client.FetchChannel(ctx, s.channelID)
	if err != nil {
		s.log.Errorf("failed to fetch channel %s: %v", s.channelID, err)
		return outcomeDone, 0
	}

	base := StripCountSuffix(ch.Name)
	want := FormatLabel(base, value)
	if want == ch.Name {
		// Already current; don't spend a rename on a no-op.
		return outcomeDone, 0
	}

	if err := s.client.SetChannelName(ctx, s.channelID, want); err != nil {
		var rl *platform.RateLimitError
		if errors.As(err, &rl) {
			s.log.Warnf("rename of %s rate limited, retrying in %s", s.channelID, rl.RetryAfter)
			return outcomeRateLimited, rl.RetryAfter
		}
		s.log.Errorf("failed to rename %s: %v", s.channelID, err)
		return outcomeDone, 0
	}

	s.log.Infof("renamed %s to %q", s.channelID, want)
	return outcomeMutated, 0
}

// finish records the cycle's result and arms the next timer if needed.
func (s *Syncer) finish(out outcome, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.stopped {
		return
	}
	switch out {
	case outcomeMutated:
		s.lastMutation = time.Now()
	case outcomeRateLimited:
		// The platform told us exactly when to try again.
		s.rerun = false
		s.schedule(stateBackingOff, retryAfter)
		return
	}
	if s.rerun {
		s.rerun = false
		s.schedule(stateDebouncing, s.debounce)
	}
}

var countSuffix = regexp.MustCompile(`(` + CountSeparator + `|-)\d+$`)

// StripCountSuffix recovers the base name from a label that may carry one
// or more trailing count markers — either the structured "·N" form or a
// bare "-N" — looping until a fixed point. Stacked suffixes happen when
// prior updates appended to an already-suffixed name.
func StripCountSuffix(name string) string {
	for {
		stripped := countSuffix.ReplaceAllString(name, "")
		if stripped == name {
			return strings.TrimSpace(name)
		}
		name = stripped
	}
}

// FormatLabel appends the live count to a base name.
func FormatLabel(base string, count int) string {
	return fmt.Sprintf("%s%s%d", base, CountSeparator, count)
}
