// Package app wires the kagami subsystems into a running process.
//
// The App struct owns the full lifecycle: New opens the store, registers
// personality templates, probes the host, and connects the conversation
// core to the event bus; Run serves diagnostics and reacts to events;
// Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithStore, WithBus,
// WithClipSink). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kagami-sh/kagami/internal/bus"
	"github.com/kagami-sh/kagami/internal/config"
	"github.com/kagami-sh/kagami/internal/convo"
	"github.com/kagami-sh/kagami/internal/health"
	"github.com/kagami-sh/kagami/internal/hostprofile"
	"github.com/kagami-sh/kagami/internal/motion"
	"github.com/kagami-sh/kagami/internal/observe"
	"github.com/kagami-sh/kagami/internal/pipeline"
	"github.com/kagami-sh/kagami/internal/store"
	"github.com/kagami-sh/kagami/pkg/engine/llm"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// Engines bundles every engine the application runs on. Basic covers the
// always-available pipeline path; Enhanced may be the zero value to run
// basic-only. Populated by main via the config registry.
type Engines struct {
	Basic    pipeline.Engines
	Enhanced pipeline.Engines
	LLM      llm.Engine
	TTS      tts.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	engines Engines

	store    *store.Store
	bus      *bus.Bus
	metrics  *observe.Metrics
	resolver *motion.Resolver
	convo    *convo.Processor
	sessions *SessionManager
	profile  hostprofile.Profile

	httpSrv   *http.Server
	startedAt time.Time
	clips     ClipSink

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an already-open store instead of opening one under
// the configured data dir.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBus injects an event bus instead of creating one.
func WithBus(b *bus.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics sets the metrics set; the default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClipSink sets the consumer for synthesized speech clips. The default
// sink discards clips after logging their size.
func WithClipSink(sink ClipSink) Option {
	return func(a *App) { a.clips = sink }
}

// WithHostProfile injects a pre-detected host profile, skipping the probe.
func WithHostProfile(p hostprofile.Profile) Option {
	return func(a *App) { a.profile = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The engines struct
// comes from main (populated via the config registry).
//
// New performs all initialisation synchronously: store open, personality
// template registration, host probe + snapshot, avatar motion analysis,
// and conversation core construction.
func New(ctx context.Context, cfg *config.Config, engines Engines, opts ...Option) (*App, error) {
	if engines.Basic.VAD == nil || engines.Basic.STT == nil {
		return nil, errors.New("app: basic VAD and STT engines are required")
	}
	if engines.LLM == nil {
		return nil, errors.New("app: LLM engine is required")
	}

	a := &App{
		cfg:       cfg,
		engines:   engines,
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.clips == nil {
		a.clips = func(key store.Key, clip tts.Clip) {
			slog.Debug("speech clip ready",
				"key", key.String(),
				"bytes", len(clip.PCM),
				"rate", clip.SampleRate,
			)
		}
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Event bus ─────────────────────────────────────────────────────
	if a.bus == nil {
		a.bus = bus.New()
		a.closers = append(a.closers, func() error {
			a.bus.Close()
			return nil
		})
	}

	// ── 3. Host profile ──────────────────────────────────────────────────
	a.initHostProfile(ctx)

	// ── 4. Avatar motion analyses ────────────────────────────────────────
	a.initMotions()

	// ── 5. Conversation core ─────────────────────────────────────────────
	proc, err := convo.New(convoConfig(cfg), a.store, engines.LLM, a.bus,
		convo.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init conversation core: %w", err)
	}
	a.convo = proc

	// ── 6. Session manager ───────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:  cfg,
		Engines: engines,
		Bus:     a.bus,
		Store:   a.store,
		Metrics: a.metrics,
		Clips:   a.clips,
	})

	// ── 7. Diagnostics HTTP server ───────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.httpSrv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.diagHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the store (unless injected) and registers every
// configured model's personality template.
func (a *App) initStore() error {
	if a.store == nil {
		st, err := store.Open(a.cfg.Paths.DataDir)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	for _, m := range a.cfg.Models {
		if len(m.Personality) == 0 {
			continue
		}
		if err := a.store.RegisterTemplate(m.ID, m.Personality); err != nil {
			return fmt.Errorf("register personality template %q: %w", m.ID, err)
		}
		slog.Info("registered personality template", "model", m.ID, "traits", len(m.Personality))
	}
	return nil
}

// initHostProfile probes the host (unless a profile was injected) and
// records the snapshot. Snapshot persistence is best-effort.
func (a *App) initHostProfile(_ context.Context) {
	if a.profile.OS == "" {
		a.profile = hostprofile.NewDetector().Detect()
	}
	slog.Info("host profile", "summary", a.profile.Summary())

	if err := a.store.PutHostSnapshot(a.profile); err != nil {
		slog.Warn("host snapshot not persisted", "error", err)
	}
}

// initMotions warms the motion analysis cache for every configured model
// that declares a Live2D directory. Analysis failures are logged, not
// fatal: a model without motions still chats.
func (a *App) initMotions() {
	a.resolver = motion.NewResolver(motion.WithStore(a.store))

	for _, m := range a.cfg.Models {
		if m.Live2DPath == "" {
			continue
		}
		path := m.Live2DPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.Paths.DataDir, "live2d_models", path)
		}
		manifest, err := findManifest(path)
		if err != nil {
			slog.Warn("avatar manifest not found", "model", m.ID, "error", err)
			continue
		}
		ma, err := a.resolver.Resolve(m.ID, manifest)
		if err != nil {
			slog.Warn("avatar model analysis failed", "model", m.ID, "error", err)
			continue
		}
		slog.Info("avatar model analyzed",
			"model", m.ID, "motions", len(ma.Motions), "groups", len(ma.Groups))
	}
}

// findManifest locates a model's *.model3.json. path may name the
// manifest itself or the model directory containing exactly one.
func findManifest(path string) (string, error) {
	if strings.HasSuffix(path, ".model3.json") {
		return path, nil
	}
	matches, err := filepath.Glob(filepath.Join(path, "*.model3.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no *.model3.json under %s", path)
	}
	return matches[0], nil
}

// convoConfig maps the conversation block onto the core's tuning struct.
func convoConfig(cfg *config.Config) convo.Config {
	return convo.Config{
		HistoryDepth: cfg.Conversation.HistoryDepth,
		MemoryDepth:  cfg.Conversation.MemoryDepth,
		MaxTokens:    cfg.Conversation.MaxTokens,
		Temperature:  cfg.Conversation.Temperature,
		CacheTTL:     cfg.Conversation.CacheTTL.Std(),
		LLMTimeout:   cfg.Conversation.LLMTimeout.Std(),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the conversation core, the motion reaction loop, and the
// diagnostics server, then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if a.httpSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("diagnostics server listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics server error", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.convo.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("conversation core stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.motionLoop(ctx)
	}()

	slog.Info("app running", "models", len(a.cfg.Models))
	<-ctx.Done()

	if a.httpSrv != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.httpSrv.Shutdown(closeCtx)
		cancel()
	}

	wg.Wait()
	return ctx.Err()
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Bus returns the application event bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Store returns the application store.
func (a *App) Store() *store.Store { return a.store }

// ─── Motion reactions ────────────────────────────────────────────────────────

// motionLoop turns every ready response into a motion trigger for the
// speaking model's avatar.
func (a *App) motionLoop(ctx context.Context) {
	sub := a.bus.Subscribe(bus.TypeResponseReady)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r, ok := ev.Payload.(bus.Response)
			if !ok {
				continue
			}
			a.triggerMotion(r.ModelID, r.Emotion)
		}
	}
}

// triggerMotion picks a motion group matching the emotion and publishes
// motion_trigger. No analysis or no matching group means no motion.
func (a *App) triggerMotion(modelID, emotion string) {
	ma, err := a.resolver.Resolve(modelID, "")
	if err != nil || ma == nil || len(ma.Groups) == 0 {
		return
	}

	group, name := motionFor(ma, emotion)
	if group == "" {
		return
	}

	a.bus.Publish(bus.Event{
		Type: bus.TypeMotionTrigger,
		Payload: bus.Motion{
			Group:    group,
			Name:     name,
			Priority: groupPriority(ma, group),
		},
	})
}

// motionFor selects a motion group for an emotion: first a group whose
// name contains the emotion word, then a member motion whose name does,
// then the idle group.
func motionFor(ma *motion.ModelAnalysis, emotion string) (group, name string) {
	emotion = strings.ToLower(emotion)
	if emotion != "" && emotion != "neutral" {
		for g, names := range ma.Groups {
			if strings.Contains(strings.ToLower(g), emotion) && len(names) > 0 {
				return g, names[0]
			}
		}
		for g, names := range ma.Groups {
			for _, n := range names {
				if strings.Contains(strings.ToLower(n), emotion) {
					return g, n
				}
			}
		}
	}
	for g, names := range ma.Groups {
		if strings.Contains(strings.ToLower(g), "idle") && len(names) > 0 {
			return g, names[0]
		}
	}
	return "", ""
}

// groupPriority ranks the group by its compatibility bucket, following
// [motion.PriorityOrder]: lower is more urgent.
func groupPriority(ma *motion.ModelAnalysis, group string) int {
	plan := motion.CompatibilityPlan(ma)
	switch {
	case containsString(plan.FaceOnlyGroups, group):
		return 1
	case containsString(plan.BodyOnlyGroups, group):
		return 2
	case containsString(plan.MixedGroups, group):
		return 3
	default:
		return 0
	}
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ─── Diagnostics ─────────────────────────────────────────────────────────────

// diagHandler builds the /healthz, /readyz, /metrics, /status mux wrapped
// in the HTTP metrics middleware.
func (a *App) diagHandler() http.Handler {
	checks := health.New(
		health.Checker{Name: "store", Check: func(context.Context) error {
			return a.store.Ping()
		}},
		health.Checker{Name: "llm", Check: func(context.Context) error {
			if a.engines.LLM == nil {
				return errors.New("llm engine not configured")
			}
			return nil
		}},
		health.Checker{Name: "tts", Check: func(context.Context) error {
			if a.engines.TTS == nil {
				return errors.New("tts engine not configured")
			}
			return nil
		}},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", a.statusHandler)

	return observe.Middleware(a.metrics)(mux)
}

// statusHandler serves the aggregated system status as JSON.
func (a *App) statusHandler(w http.ResponseWriter, _ *http.Request) {
	st := a.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		slog.Warn("status encode failed", "error", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops all sessions and tears down subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.sessions.StopAll()

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("diagnostics server shutdown error", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
