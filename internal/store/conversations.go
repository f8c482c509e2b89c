package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role labels the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a key's append-only conversation log.
type Message struct {
	ID      string        `json:"id"`
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Emotion string        `json:"emotion,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
	Time    time.Time     `json:"time"`
}

// AppendMessage appends one message to the key's conversation log and
// returns its ID. Messages are ordered by a per-key sequence number so
// two appends within the same clock tick keep program order.
func (s *Store) AppendMessage(key Key, role Role, content, emotion string, latency time.Duration) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if !role.IsValid() {
		return "", fmt.Errorf("store: append message: role %q is not user or assistant", role)
	}

	d := s.handle(dbConversations)
	d.mu.Lock()
	defer d.mu.Unlock()

	var next int64
	err := d.db.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE user_id = ? AND model_id = ?`,
		key.UserID, key.ModelID,
	).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("store: append message: next seq: %w", err)
	}

	id := uuid.NewString()
	_, err = d.db.Exec(
		`INSERT INTO messages (id, user_id, model_id, role, content, emotion, latency_ns, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, key.UserID, key.ModelID, string(role), content, emotion,
		latency.Nanoseconds(), time.Now().UnixNano(), next,
	)
	if err != nil {
		return "", fmt.Errorf("store: append message: %w", err)
	}
	return id, nil
}

// RecentMessages returns the key's last limit messages in chronological
// order, newest last. A non-positive limit returns an empty slice.
func (s *Store) RecentMessages(key Key, limit int) ([]Message, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	d := s.handle(dbConversations)
	d.mu.Lock()
	defer d.mu.Unlock()

	// Newest-first window, then reversed so callers read oldest to
	// newest.
	rows, err := d.db.Query(
		`SELECT id, role, content, emotion, latency_ns, created_at
		 FROM messages
		 WHERE user_id = ? AND model_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`,
		key.UserID, key.ModelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: recent messages: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MessageCount returns the number of messages stored for the key.
func (s *Store) MessageCount(key Key) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	d := s.handle(dbConversations)
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE user_id = ? AND model_id = ?`,
		key.UserID, key.ModelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: message count: %w", err)
	}
	return n, nil
}

// scanMessage reads one message row.
func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m         Message
		role      string
		latencyNS int64
		createdAt int64
	)
	if err := rows.Scan(&m.ID, &role, &m.Content, &m.Emotion, &latencyNS, &createdAt); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.Latency = time.Duration(latencyNS)
	m.Time = time.Unix(0, createdAt)
	return m, nil
}
