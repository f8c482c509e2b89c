package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionContext is a key's short-term working context for one session:
// the window of messages the conversation core feeds back into prompts.
// It is replaced wholesale on every save; the append-only log in the
// conversations database remains the durable record.
type SessionContext struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutSessionContext atomically replaces the stored context for
// (key, sessionID).
func (s *Store) PutSessionContext(key Key, sessionID string, messages []Message) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("store: put session context: empty session id")
	}

	blob, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("store: put session context: encode: %w", err)
	}

	d := s.handle(dbUserSessions)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.Exec(
		`INSERT INTO session_contexts (user_id, model_id, session_id, messages, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, model_id, session_id)
		 DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		key.UserID, key.ModelID, sessionID, string(blob), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: put session context: %w", err)
	}
	return nil
}

// SessionContext returns the stored context for (key, sessionID), or
// ErrNotFound when none exists.
func (s *Store) SessionContext(key Key, sessionID string) (SessionContext, error) {
	if err := key.Validate(); err != nil {
		return SessionContext{}, err
	}

	d := s.handle(dbUserSessions)
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		blob      string
		updatedAt int64
	)
	err := d.db.QueryRow(
		`SELECT messages, updated_at FROM session_contexts
		 WHERE user_id = ? AND model_id = ? AND session_id = ?`,
		key.UserID, key.ModelID, sessionID,
	).Scan(&blob, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionContext{}, fmt.Errorf("store: session context %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return SessionContext{}, fmt.Errorf("store: session context: %w", err)
	}

	sc := SessionContext{SessionID: sessionID, UpdatedAt: time.Unix(0, updatedAt)}
	if err := json.Unmarshal([]byte(blob), &sc.Messages); err != nil {
		return SessionContext{}, fmt.Errorf("store: session context: decode: %w", err)
	}
	return sc, nil
}

// DeleteSessionContext removes the stored context for (key, sessionID).
// Deleting a context that does not exist is not an error.
func (s *Store) DeleteSessionContext(key Key, sessionID string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	d := s.handle(dbUserSessions)
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(
		`DELETE FROM session_contexts WHERE user_id = ? AND model_id = ? AND session_id = ?`,
		key.UserID, key.ModelID, sessionID,
	); err != nil {
		return fmt.Errorf("store: delete session context: %w", err)
	}
	return nil
}
