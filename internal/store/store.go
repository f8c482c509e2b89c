// Package store implements the runtime's persistent state: conversation
// history, session contexts, weighted memories, adaptive personality
// traits, bonding progression, avatar emotional state, the LLM response
// cache, and the supporting user/profile/app-state records.
//
// # Architecture
//
// State lives in separate embedded SQLite databases under
// <data_dir>/databases/, one file per logical store (conversations,
// personality, live2d, system, users, user_profiles, user_sessions,
// app_state). Each logical database is guarded by its own mutex; locking
// is deliberately coarse — contention is low because the isolation key
// fans traffic out across rows, not across databases.
//
// # Isolation
//
// The unit of isolation is the [Key]: the (user ID, avatar model ID)
// pair. Every conversational or affective read and write requires a full
// key and fails with [ErrInvalidKey] when either half is missing. Nothing
// ever falls back to a default key, and no query crosses keys. The store
// is the only writer to its entities; other components hold values
// obtained through its operations.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrInvalidKey reports a store operation attempted without a full
// interaction key. This is a programming error in the caller, not a
// recoverable condition.
var ErrInvalidKey = errors.New("store: invalid interaction key")

// ErrCacheMiss reports that no live cache entry exists. Not a failure;
// callers proceed to generation.
var ErrCacheMiss = errors.New("store: cache miss")

// ErrNotFound reports that a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Key is the interaction key: the (user, avatar model) pair that isolates
// all per-user-per-avatar state.
type Key struct {
	UserID  string
	ModelID string
}

// Validate reports ErrInvalidKey when either half of the key is empty.
func (k Key) Validate() error {
	if k.UserID == "" || k.ModelID == "" {
		return fmt.Errorf("%w: user=%q model=%q", ErrInvalidKey, k.UserID, k.ModelID)
	}
	return nil
}

// String renders the key for logs.
func (k Key) String() string { return k.UserID + "/" + k.ModelID }

// Logical database names. Each maps to one SQLite file under
// <data_dir>/databases/<name>.db.
const (
	dbConversations = "conversations"
	dbPersonality   = "personality"
	dbLive2D        = "live2d"
	dbSystem        = "system"
	dbUsers         = "users"
	dbUserProfiles  = "user_profiles"
	dbUserSessions  = "user_sessions"
	dbAppState      = "app_state"
)

// database pairs one SQLite handle with its guarding mutex.
type database struct {
	mu sync.Mutex
	db *sql.DB
}

// Store is the embedded multi-database state store. Safe for concurrent
// use. Create with [Open]; always Close.
type Store struct {
	dir string
	dbs map[string]*database

	// cacheMu guards the LLM cache separately from the system database's
	// general mutex so cache traffic never queues behind snapshots.
	cacheMu sync.Mutex
}

// Open creates or opens every logical database under
// <dataDir>/databases/ and applies the schema.
func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "databases")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	s := &Store{
		dir: dir,
		dbs: make(map[string]*database, len(schemas)),
	}
	for name, ddl := range schemas {
		db, err := sql.Open("sqlite", filepath.Join(dir, name+".db"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("store: open %s: %w", name, err)
		}
		// One connection per logical database; the per-database mutex
		// serialises access anyway and a single writer avoids
		// SQLITE_BUSY entirely.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			s.Close()
			return nil, fmt.Errorf("store: migrate %s: %w", name, err)
		}
		s.dbs[name] = &database{db: db}
	}
	return s, nil
}

// handle returns the named logical database. The name is always one of
// the package constants, so a miss is a bug.
func (s *Store) handle(name string) *database {
	d, ok := s.dbs[name]
	if !ok {
		panic("store: unknown logical database " + name)
	}
	return d
}

// Ping verifies every logical database answers. Used by readiness checks.
func (s *Store) Ping() error {
	for name, d := range s.dbs {
		d.mu.Lock()
		err := d.db.Ping()
		d.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: ping %s: %w", name, err)
		}
	}
	return nil
}

// Close releases every database handle. Safe to call on a partially
// opened store.
func (s *Store) Close() error {
	var errs []error
	for name, d := range s.dbs {
		d.mu.Lock()
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: close %s: %w", name, err))
		}
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}
