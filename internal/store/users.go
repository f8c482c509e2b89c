package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// User is one registered user record.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	LastSeen    time.Time
}

// Profile holds a user's optional demographic and preference fields.
type Profile struct {
	AgeRange    string
	Language    string
	Preferences map[string]string
}

// UpsertUser creates or refreshes a user record, updating last-seen.
func (s *Store) UpsertUser(id, displayName string) error {
	if id == "" {
		return fmt.Errorf("store: upsert user: empty user id")
	}

	d := s.handle(dbUsers)
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixNano()
	_, err := d.db.Exec(
		`INSERT INTO users (id, display_name, created_at, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id)
		 DO UPDATE SET display_name = excluded.display_name, last_seen = excluded.last_seen`,
		id, displayName, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

// User returns the user record, or ErrNotFound.
func (s *Store) User(id string) (User, error) {
	d := s.handle(dbUsers)
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		u         User
		createdAt int64
		lastSeen  int64
	)
	err := d.db.QueryRow(
		`SELECT id, display_name, created_at, last_seen FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("store: user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("store: user: %w", err)
	}
	u.CreatedAt = time.Unix(0, createdAt)
	u.LastSeen = time.Unix(0, lastSeen)
	return u, nil
}

// PutProfile stores or replaces a user's profile.
func (s *Store) PutProfile(userID string, p Profile) error {
	if userID == "" {
		return fmt.Errorf("store: put profile: empty user id")
	}
	prefs := p.Preferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	blob, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("store: put profile: encode preferences: %w", err)
	}

	d := s.handle(dbUserProfiles)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.Exec(
		`INSERT INTO profiles (user_id, age_range, language, preferences)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id)
		 DO UPDATE SET age_range = excluded.age_range, language = excluded.language,
		               preferences = excluded.preferences`,
		userID, p.AgeRange, p.Language, string(blob),
	)
	if err != nil {
		return fmt.Errorf("store: put profile: %w", err)
	}
	return nil
}

// Profile returns a user's profile, or ErrNotFound when none was stored.
func (s *Store) Profile(userID string) (Profile, error) {
	d := s.handle(dbUserProfiles)
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		p    Profile
		blob string
	)
	err := d.db.QueryRow(
		`SELECT age_range, language, preferences FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.AgeRange, &p.Language, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("store: profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("store: profile: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &p.Preferences); err != nil {
		return Profile{}, fmt.Errorf("store: profile: decode preferences: %w", err)
	}
	return p, nil
}

// SetAppState stores one application-level key/value pair.
func (s *Store) SetAppState(key, value string) error {
	if key == "" {
		return fmt.Errorf("store: set app state: empty key")
	}

	d := s.handle(dbAppState)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		`INSERT INTO app_state (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: set app state: %w", err)
	}
	return nil
}

// AppState returns one application-level value, or ErrNotFound.
func (s *Store) AppState(key string) (string, error) {
	d := s.handle(dbAppState)
	d.mu.Lock()
	defer d.mu.Unlock()

	var value string
	err := d.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: app state %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("store: app state: %w", err)
	}
	return value, nil
}
