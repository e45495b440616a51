package history

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := openTestDB(t)

	first, err := m.GetOrCreate("discord:guild:123")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := m.GetOrCreate("discord:guild:123")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same key produced different sessions: %s vs %s", first.ID, second.ID)
	}

	other, err := m.GetOrCreate("discord:dm:456")
	if err != nil {
		t.Fatalf("GetOrCreate other: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different keys shared a session")
	}
}

func TestAppendAndRecent(t *testing.T) {
	m := openTestDB(t)
	sess, err := m.GetOrCreate("discord:guild:123")
	if err != nil {
		t.Fatal(err)
	}

	turns := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Role: "user", Content: "how are you"},
	}
	for _, msg := range turns {
		if err := m.Append(sess.ID, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := m.Recent(sess.ID, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d messages, want 3", len(got))
	}
	for i := range turns {
		if got[i].Role != turns[i].Role || got[i].Content != turns[i].Content {
			t.Fatalf("message %d = %s:%q, want %s:%q", i, got[i].Role, got[i].Content, turns[i].Role, turns[i].Content)
		}
	}
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	m := openTestDB(t)
	sess, _ := m.GetOrCreate("k")
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := m.Append(sess.ID, Message{Role: "user", Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Recent(sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "four" {
		t.Fatalf("Recent(2) = %v, want the two newest in order", got)
	}
}

func TestRecentEmptySession(t *testing.T) {
	m := openTestDB(t)
	sess, _ := m.GetOrCreate("k")
	got, err := m.Recent(sess.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("empty session returned %d messages", len(got))
	}
}

func TestCountSessions(t *testing.T) {
	m := openTestDB(t)
	m.GetOrCreate("discord:guild:111")
	m.GetOrCreate("discord:dm:111")
	m.GetOrCreate("discord:guild:222")

	n, err := m.CountSessions("111")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("CountSessions(111) = %d, want 2", n)
	}

	n, err = m.CountSessions("999")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("CountSessions(999) = %d, want 0", n)
	}
}
