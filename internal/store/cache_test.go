package store

import (
	"errors"
	"testing"
	"time"
)

func TestCache_RoundTripAndModelIsolation(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheResponse("fp-1", "miku", "hello there!", time.Hour); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}

	got, err := s.CachedResponse("fp-1", "miku")
	if err != nil {
		t.Fatalf("CachedResponse: %v", err)
	}
	if got != "hello there!" {
		t.Errorf("response = %q, want hello there!", got)
	}

	// Same fingerprint under a different model never cross-reads.
	if _, err := s.CachedResponse("fp-1", "rin"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("cross-model read err = %v, want ErrCacheMiss", err)
	}
	if _, err := s.CachedResponse("fp-2", "miku"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("unknown fingerprint err = %v, want ErrCacheMiss", err)
	}
}

func TestCache_ExpiryEnforcedAtRead(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheResponse("fp-1", "miku", "stale", time.Nanosecond); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := s.CachedResponse("fp-1", "miku"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired entry err = %v, want ErrCacheMiss", err)
	}
}

func TestCache_OverwriteRefreshesEntry(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheResponse("fp-1", "miku", "old", time.Hour); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	if err := s.CacheResponse("fp-1", "miku", "new", time.Hour); err != nil {
		t.Fatalf("CacheResponse overwrite: %v", err)
	}
	got, err := s.CachedResponse("fp-1", "miku")
	if err != nil {
		t.Fatalf("CachedResponse: %v", err)
	}
	if got != "new" {
		t.Errorf("response = %q, want new", got)
	}
}

func TestCache_NonPositiveTTLIsNoop(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheResponse("fp-1", "miku", "skip me", 0); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	if _, err := s.CachedResponse("fp-1", "miku"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("zero-ttl entry err = %v, want ErrCacheMiss", err)
	}
}

func TestPruneCache_RemovesOnlyExpired(t *testing.T) {
	s := newTestStore(t)

	if err := s.CacheResponse("dead", "miku", "x", time.Nanosecond); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	if err := s.CacheResponse("live", "miku", "y", time.Hour); err != nil {
		t.Fatalf("CacheResponse: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := s.PruneCache()
	if err != nil {
		t.Fatalf("PruneCache: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d entries, want 1", n)
	}
	if _, err := s.CachedResponse("live", "miku"); err != nil {
		t.Errorf("live entry lost: %v", err)
	}
}
