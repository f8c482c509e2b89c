package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kagami-sh/kagami/internal/bus"
	"github.com/kagami-sh/kagami/internal/config"
	"github.com/kagami-sh/kagami/internal/observe"
	"github.com/kagami-sh/kagami/internal/pipeline"
	"github.com/kagami-sh/kagami/internal/store"
	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// synthesisTimeout bounds one TTS call in the reaction loop.
const synthesisTimeout = 15 * time.Second

// ClipSink consumes synthesized speech for delivery to the client shell.
type ClipSink func(key store.Key, clip tts.Clip)

// Session is one user's live interaction with one model: a running voice
// pipeline plus a speech reaction loop. Frames go in via Push; replies
// come back through the bus and the clip sink.
type Session struct {
	Key       store.Key
	StartedAt time.Time

	dual   *pipeline.Dual
	sub    *bus.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Push feeds one captured frame into the session's pipeline.
func (s *Session) Push(f audio.Frame) { s.dual.Push(f) }

// State reports the active pipeline's current state.
func (s *Session) State() pipeline.State { return s.dual.State() }

// Mode reports which pipeline is serving ("basic" or "enhanced").
func (s *Session) Mode() string { return s.dual.Mode() }

// Drops reports frames discarded by the active pipeline.
func (s *Session) Drops() int64 { return s.dual.Drops() }

// SessionManager owns every live session, keyed by interaction key.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg     *config.Config
	engines Engines
	bus     *bus.Bus
	store   *store.Store
	metrics *observe.Metrics
	clips   ClipSink
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[store.Key]*Session
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config  *config.Config
	Engines Engines
	Bus     *bus.Bus
	Store   *store.Store
	Metrics *observe.Metrics
	Clips   ClipSink
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:      cfg.Config,
		engines:  cfg.Engines,
		bus:      cfg.Bus,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		clips:    cfg.Clips,
		log:      slog.Default(),
		sessions: make(map[store.Key]*Session),
	}
}

// Start brings up a session for the key: a dual pipeline stamped with the
// key plus a reaction loop synthesizing every ready response. Returns an
// error when the key is invalid, names an unknown model, or already has a
// session.
func (sm *SessionManager) Start(ctx context.Context, key store.Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	model, ok := sm.modelFor(key.ModelID)
	if !ok {
		return nil, fmt.Errorf("session: unknown model %q", key.ModelID)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[key]; exists {
		return nil, fmt.Errorf("session: already active for %s", key.String())
	}

	dual, err := pipeline.NewDual(sm.pipelineConfig(key), sm.engines.Basic, sm.engines.Enhanced, sm.bus)
	if err != nil {
		return nil, fmt.Errorf("session: build pipeline: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	dual.Start(sctx)

	s := &Session{
		Key:       key,
		StartedAt: time.Now().UTC(),
		dual:      dual,
		sub:       sm.bus.Subscribe(bus.TypeResponseReady),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go sm.reactLoop(sctx, s, model.Voice)

	sm.sessions[key] = s
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(sctx, 1)
	}

	sm.log.Info("session started",
		"key", key.String(),
		"mode", dual.Mode(),
		"voice", model.Voice,
	)
	return s, nil
}

// Stop tears down the session for the key. Returns an error when no
// session is active for it.
func (sm *SessionManager) Stop(key store.Key) error {
	sm.mu.Lock()
	s, ok := sm.sessions[key]
	if ok {
		delete(sm.sessions, key)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("session: none active for %s", key.String())
	}
	sm.teardown(s)
	sm.log.Info("session stopped", "key", key.String())
	return nil
}

// StopAll tears down every live session. Used during shutdown.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	live := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		live = append(live, s)
	}
	sm.sessions = make(map[store.Key]*Session)
	sm.mu.Unlock()

	for _, s := range live {
		sm.teardown(s)
	}
}

// Get returns the live session for the key, or nil.
func (sm *SessionManager) Get(key store.Key) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions[key]
}

// Active returns a snapshot of all live sessions.
func (sm *SessionManager) Active() []*Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// SetAggressiveness applies a new VAD level to every live session.
func (sm *SessionManager) SetAggressiveness(level int) error {
	for _, s := range sm.Active() {
		if err := s.dual.SetAggressiveness(level); err != nil {
			return fmt.Errorf("session %s: %w", s.Key.String(), err)
		}
	}
	return nil
}

// SetWakeSensitivity applies a new wake threshold to every live session.
func (sm *SessionManager) SetWakeSensitivity(v float64) error {
	for _, s := range sm.Active() {
		if err := s.dual.SetWakeSensitivity(v); err != nil {
			return fmt.Errorf("session %s: %w", s.Key.String(), err)
		}
	}
	return nil
}

// ─── Internals ───────────────────────────────────────────────────────────────

func (sm *SessionManager) teardown(s *Session) {
	snap := sessionSnapshot{
		UserID:    s.Key.UserID,
		ModelID:   s.Key.ModelID,
		StartedAt: s.StartedAt,
		EndedAt:   time.Now().UTC(),
		Mode:      s.Mode(),
		Drops:     s.Drops(),
	}

	s.cancel()
	if err := s.dual.Stop(); err != nil {
		sm.log.Warn("pipeline stop error", "key", s.Key.String(), "error", err)
	}
	s.sub.Close()
	<-s.done
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	sm.writeSnapshot(snap)
}

// sessionSnapshot is the record dropped under <cache_dir>/sessions/ when a
// session ends.
type sessionSnapshot struct {
	UserID    string    `json:"user_id"`
	ModelID   string    `json:"model_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Mode      string    `json:"mode"`
	Drops     int64     `json:"drops"`
	Messages  int       `json:"messages"`
}

// writeSnapshot persists the session record. Best effort: a full disk or
// read-only cache dir must not fail shutdown.
func (sm *SessionManager) writeSnapshot(snap sessionSnapshot) {
	if sm.cfg.Paths.CacheDir == "" {
		return
	}
	if sm.store != nil {
		if n, err := sm.store.MessageCount(store.Key{UserID: snap.UserID, ModelID: snap.ModelID}); err == nil {
			snap.Messages = n
		}
	}

	dir := filepath.Join(sm.cfg.Paths.CacheDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		sm.log.Warn("session snapshot dir", "error", err)
		return
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		sm.log.Warn("session snapshot encode", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%d.json", snap.UserID, snap.ModelID, snap.EndedAt.Unix())
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		sm.log.Warn("session snapshot write", "error", err)
	}
}

// reactLoop synthesizes speech for every ready response addressed to the
// session's key. Synthesis failures are reported on the bus; the turn's
// text already reached the client, so the session keeps running.
func (sm *SessionManager) reactLoop(ctx context.Context, s *Session, voice string) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			r, ok := ev.Payload.(bus.Response)
			if !ok || r.UserID != s.Key.UserID || r.ModelID != s.Key.ModelID {
				continue
			}
			sm.speak(ctx, s, r, voice)
		}
	}
}

func (sm *SessionManager) speak(ctx context.Context, s *Session, r bus.Response, voice string) {
	if sm.engines.TTS == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	start := time.Now()
	clip, err := sm.engines.TTS.Synthesize(callCtx, r.Text, tts.Options{
		Emotion: r.Emotion,
		Voice:   voice,
	})
	if sm.metrics != nil {
		sm.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		sm.log.Warn("speech synthesis failed", "key", s.Key.String(), "error", err)
		if sm.metrics != nil {
			sm.metrics.RecordEngineError(ctx, "tts", "synthesize")
		}
		sm.bus.Publish(bus.Event{
			Type:    bus.TypeError,
			Payload: bus.Error{Kind: "tts", Message: err.Error()},
		})
		return
	}

	if sm.clips != nil {
		sm.clips(s.Key, clip)
	}
}

// pipelineConfig maps the config's pipeline block onto one session's
// pipeline, stamping the interaction key.
func (sm *SessionManager) pipelineConfig(key store.Key) pipeline.Config {
	p := sm.cfg.Pipeline
	return pipeline.Config{
		UserID:         key.UserID,
		ModelID:        key.ModelID,
		WakeTimeout:    p.WakeTimeout.Std(),
		SilenceTimeout: p.SilenceTimeout.Std(),
		MinSpeech:      p.MinSpeech.Std(),
		PrefixPadding:  p.PrefixPadding.Std(),
		STTTimeout:     p.STTTimeout.Std(),
	}
}

func (sm *SessionManager) modelFor(id string) (config.ModelConfig, bool) {
	for _, m := range sm.cfg.Models {
		if m.ID == id {
			return m, true
		}
	}
	return config.ModelConfig{}, false
}
