package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kagami-sh/kagami/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
engines:
  llm:
    name: llamacpp
  tts:
    name: localserver
models:
  - id: miku
`

// startWatcher writes the base config to a temp file and begins watching
// it with a fast poll. Returns the file path for follow-up edits.
func startWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kagami.yaml")
	writeConfigFile(t, path, watcherBaseYAML)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcher_ServesInitialConfig(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after construction")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_ReportsEdits(t *testing.T) {
	t.Parallel()

	type pair struct{ old, new *config.Config }
	changed := make(chan pair, 1)
	w, path := startWatcher(t, func(old, new *config.Config) {
		select {
		case changed <- pair{old, new}:
		default:
		}
	})

	writeConfigFile(t, path, `
server:
  log_level: debug
engines:
  llm:
    name: llamacpp
  tts:
    name: localserver
models:
  - id: miku
`)

	select {
	case p := <-changed:
		if p.old.Server.LogLevel != config.LogInfo {
			t.Errorf("old log_level = %q, want info", p.old.Server.LogLevel)
		}
		if p.new.Server.LogLevel != config.LogDebug {
			t.Errorf("new log_level = %q, want debug", p.new.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("edit never reported")
	}

	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_BadEditKeepsPreviousConfig(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	w, path := startWatcher(t, func(_, _ *config.Config) { calls.Add(1) })

	writeConfigFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("onChange fired %d times for an invalid edit", n)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the pre-edit info", got)
	}
}

func TestWatcher_TouchOnlyIsIgnored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, path := startWatcher(t, func(_, _ *config.Config) { calls.Add(1) })

	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("onChange fired %d times for a touch without content change", n)
	}
}

func TestWatcher_MissingFileFailsConstruction(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)
	w.Stop()
	w.Stop()
}
