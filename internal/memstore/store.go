// Package memstore maintains a bounded, deduplicated set of long-lived
// facts per user, persisted as a single JSON file. Items are
// content-addressed: re-adding semantically identical text updates the
// existing item instead of duplicating it.
package memstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind classifies what a durable item records.
type Kind string

const (
	KindPreference Kind = "preference"
	KindFact       Kind = "fact"
	KindDecision   Kind = "decision"
	KindStyle      Kind = "style"
)

// Status is an item's lifecycle state. Deprecated items are kept until
// capacity pressure evicts them; they never surface in injection.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

// Version tags the persisted file layout for forward-compatible parsing.
const Version = 1

// idHexLen is the fixed width of the content-hash prefix used as item id.
const idHexLen = 12

// deprecateRatio is the minimum substring-to-text length ratio for
// Deprecate to flip an item. It is a blunt heuristic, not a precise
// semantic rule: it exists to stop a short generic substring from
// silently deprecating many unrelated long facts.
const deprecateRatio = 0.6

// Item is one long-lived fact.
type Item struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"kind"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	Status    Status   `json:"status"`
	Source    string   `json:"source,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// Store is a flat ordered sequence of items. Order is insertion order;
// in-place updates keep an item's position.
type Store struct {
	Version   int    `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
	Items     []Item `json:"items"`
}

// NewStore returns an empty store with the current layout version.
func NewStore() *Store {
	return &Store{Version: Version}
}

// ItemID computes the deterministic content address of an item: a stable
// hash of the kind and the normalized text, truncated to a fixed-width hex
// prefix.
func ItemID(kind Kind, text string) string {
	h := sha256.Sum256([]byte(string(kind) + "\x00" + normalizeText(text)))
	return hex.EncodeToString(h[:])[:idHexLen]
}

// normalizeText lowercases and collapses runs of whitespace so trivial
// reformattings of the same fact hash identically.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Add inserts a fact, or updates it in place when an active item with the
// same content address already exists. After insertion the store is
// trimmed back to maxItems (0 = unbounded): eviction prefers the oldest
// deprecated item and falls back to the oldest active one, so fresh
// knowledge outlives stale-but-undismissed knowledge.
func (s *Store) Add(text, source string, maxItems int, kind Kind) *Item {
	now := time.Now().UnixMilli()
	s.UpdatedAt = now

	id := ItemID(kind, text)
	for i := range s.Items {
		it := &s.Items[i]
		if it.ID == id && it.Status == StatusActive {
			it.Text = text
			it.Kind = kind
			it.Source = source
			// The wall clock may not tick between rapid updates; keep
			// UpdatedAt strictly advancing so recency ordering holds.
			if now <= it.UpdatedAt {
				now = it.UpdatedAt + 1
			}
			it.UpdatedAt = now
			return it
		}
	}

	s.Items = append(s.Items, Item{
		ID:        id,
		Kind:      kind,
		Text:      text,
		Status:    StatusActive,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	})

	if maxItems > 0 {
		s.evict(maxItems)
	}
	return &s.Items[len(s.Items)-1]
}

// evict removes items until the store fits maxItems: oldest deprecated
// first, then oldest active. Never panics, even on a pathologically small
// budget.
func (s *Store) evict(maxItems int) {
	for len(s.Items) > maxItems && len(s.Items) > 0 {
		victim := -1
		for i := range s.Items {
			if s.Items[i].Status == StatusDeprecated {
				victim = i
				break
			}
		}
		if victim < 0 {
			victim = 0
		}
		s.Items = append(s.Items[:victim], s.Items[victim+1:]...)
	}
}

// Deprecate marks every active item whose text contains substr as
// deprecated, but only when substr is at least 60% as long as the item's
// own text — a guard against a short generic substring wiping out many
// unrelated facts. Returns the number of items flipped.
func (s *Store) Deprecate(substr string) int {
	if substr == "" {
		return 0
	}
	now := time.Now().UnixMilli()
	count := 0
	for i := range s.Items {
		it := &s.Items[i]
		if it.Status != StatusActive || !strings.Contains(it.Text, substr) {
			continue
		}
		if float64(len(substr)) < deprecateRatio*float64(len(it.Text)) {
			continue
		}
		it.Status = StatusDeprecated
		it.UpdatedAt = now
		count++
	}
	if count > 0 {
		s.UpdatedAt = now
	}
	return count
}

// SelectForInjection returns active items, most recently updated first,
// greedily accumulated until adding the next formatted line (plus its
// newline separator) would exceed maxChars. Deterministic for a fixed
// store and budget.
func (s *Store) SelectForInjection(maxChars int) []Item {
	active := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		if it.Status == StatusActive {
			active = append(active, it)
		}
	}
	// Insertion sort by UpdatedAt descending; stable so equal timestamps
	// keep store order.
	for i := 1; i < len(active); i++ {
		for j := i; j > 0 && active[j].UpdatedAt > active[j-1].UpdatedAt; j-- {
			active[j], active[j-1] = active[j-1], active[j]
		}
	}

	var out []Item
	total := 0
	for _, it := range active {
		// The budget is in characters, not bytes; multibyte text must not
		// under-fill the selection.
		cost := utf8.RuneCountInString(FormatItem(it))
		if total > 0 {
			cost++ // newline separator
		}
		if total+cost > maxChars {
			break
		}
		total += cost
		out = append(out, it)
	}
	return out
}

// FormatItem renders one item as an injection line.
func FormatItem(it Item) string {
	return fmt.Sprintf("- (%s) %s", it.Kind, it.Text)
}

// FormatInjection renders the selected items as a newline-joined block.
func FormatInjection(items []Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = FormatItem(it)
	}
	return strings.Join(lines, "\n")
}
