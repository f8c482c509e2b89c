package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file and reports edits to a callback. The
// caller typically runs [Diff] on the pair to apply live tunables.
// Polling is deliberate: it works on every filesystem the server runs on
// (SBC SD cards, network mounts) without an inotify dependency.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu    sync.Mutex
	cfg   *Config
	mtime time.Time
	hash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the 5s polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path immediately and starts polling it. A file that
// does not parse at startup is an error; later bad edits are logged and
// skipped so a typo cannot take down a running server.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	go w.loop()
	return w, nil
}

// Current returns the last config that parsed and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			w.checkOnce()
		}
	}
}

// checkOnce is one poll: a cheap mtime comparison, then a hash comparison
// to filter touch-only writes, then a full reload.
func (w *Watcher) checkOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	if err := w.reload(); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "error", err)
	}
}

// reload reads, hashes, parses, and swaps in the file's current content.
// The onChange callback runs outside the lock so it may call Current.
func (w *Watcher) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)

	w.mu.Lock()
	if sum == w.hash {
		// Touched but identical content.
		w.mtime = info.ModTime()
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.cfg
	w.cfg = cfg
	w.hash = sum
	w.mtime = info.ModTime()
	w.mu.Unlock()

	if old != nil {
		slog.Info("config reloaded", "path", w.path)
		if w.onChange != nil {
			w.onChange(old, cfg)
		}
	}
	return nil
}
