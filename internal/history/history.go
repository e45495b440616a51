// Package history persists conversation transcripts in SQLite. It gives
// the LLM runtime its context window and the memory extractor its input.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Message represents a transcript message
type Message struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents a conversation session
type Session struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Manager handles transcript persistence
type Manager struct {
	db *sql.DB
}

// Open opens (and migrates) the transcript database at dbPath.
func Open(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m := &Manager{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return m, nil
}

func (m *Manager) migrate() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session
			ON session_messages(session_id, id);
	`)
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetOrCreate returns the session for a key, creating it on first use.
func (m *Manager) GetOrCreate(sessionKey string) (*Session, error) {
	sess, err := m.getByKey(sessionKey)
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now().Unix()
	_, err = m.db.Exec(
		`INSERT INTO sessions (id, session_key, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, sessionKey, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Session{
		ID:         id,
		SessionKey: sessionKey,
		CreatedAt:  time.Unix(now, 0),
		UpdatedAt:  time.Unix(now, 0),
	}, nil
}

func (m *Manager) getByKey(sessionKey string) (*Session, error) {
	var s Session
	var createdAt, updatedAt int64
	err := m.db.QueryRow(
		`SELECT id, session_key, created_at, updated_at FROM sessions WHERE session_key = ?`,
		sessionKey,
	).Scan(&s.ID, &s.SessionKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// Append stores one message on a session and bumps the session timestamp.
func (m *Manager) Append(sessionID string, msg Message) error {
	now := time.Now().Unix()
	_, err := m.db.Exec(
		`INSERT INTO session_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, now,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	_, err = m.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	return err
}

// CountSessions returns the number of sessions whose key contains fragment.
// Used for live channel labels, where the fragment is a channel id.
func (m *Manager) CountSessions(fragment string) (int, error) {
	var n int
	err := m.db.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE session_key LIKE ?`,
		"%"+fragment+"%",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// Recent returns the last limit messages for a session in chronological
// order. limit <= 0 returns everything.
func (m *Manager) Recent(sessionID string, limit int) ([]Message, error) {
	query := `SELECT id, session_id, role, content, created_at
		FROM session_messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var content sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &content, &createdAt); err != nil {
			return nil, err
		}
		msg.Content = content.String
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
