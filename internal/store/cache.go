package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheResponse stores a generated response under (fingerprint, modelID)
// with the given time to live. A non-positive ttl disables caching for
// the entry.
func (s *Store) CacheResponse(fingerprint, modelID, response string, ttl time.Duration) error {
	if fingerprint == "" || modelID == "" {
		return fmt.Errorf("store: cache response: empty fingerprint or model id")
	}
	if ttl <= 0 {
		return nil
	}

	now := time.Now()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	d := s.handle(dbSystem)
	_, err := d.db.Exec(
		`INSERT INTO llm_cache (fingerprint, model_id, response, cached_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint, model_id)
		 DO UPDATE SET response = excluded.response, cached_at = excluded.cached_at,
		               expires_at = excluded.expires_at`,
		fingerprint, modelID, response, now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: cache response: %w", err)
	}
	return nil
}

// CachedResponse returns the live cached response for
// (fingerprint, modelID). Expiry is enforced here, at read time: an
// expired entry is deleted and reported as [ErrCacheMiss], exactly like
// an absent one. The cache never crosses model IDs.
func (s *Store) CachedResponse(fingerprint, modelID string) (string, error) {
	if fingerprint == "" || modelID == "" {
		return "", fmt.Errorf("store: cached response: empty fingerprint or model id")
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	d := s.handle(dbSystem)
	var (
		response  string
		expiresAt int64
	)
	err := d.db.QueryRow(
		`SELECT response, expires_at FROM llm_cache WHERE fingerprint = ? AND model_id = ?`,
		fingerprint, modelID,
	).Scan(&response, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("store: cached response: %w", err)
	}

	if time.Now().UnixNano() >= expiresAt {
		// Expired entries are reaped lazily; a delete failure does not
		// matter, the entry stays dead either way.
		d.db.Exec(`DELETE FROM llm_cache WHERE fingerprint = ? AND model_id = ?`,
			fingerprint, modelID)
		return "", ErrCacheMiss
	}
	return response, nil
}

// PruneCache removes every expired cache entry. Returns the number
// removed.
func (s *Store) PruneCache() (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	d := s.handle(dbSystem)
	res, err := d.db.Exec(`DELETE FROM llm_cache WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: prune cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune cache: %w", err)
	}
	return n, nil
}
