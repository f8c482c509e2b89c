// Command kagamid is the kagami avatar chat server: it listens on the
// microphone (or an external audio shell), hears its wake word, and
// answers as a persona-driven Live2D companion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kagami-sh/kagami/internal/app"
	"github.com/kagami-sh/kagami/internal/config"
	"github.com/kagami-sh/kagami/internal/hostprofile"
	"github.com/kagami-sh/kagami/internal/observe"
	"github.com/kagami-sh/kagami/internal/pipeline"
	"github.com/kagami-sh/kagami/internal/resilience"
	"github.com/kagami-sh/kagami/internal/store"
	"github.com/kagami-sh/kagami/pkg/audio/capture"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/llm"
	"github.com/kagami-sh/kagami/pkg/engine/llm/anyllm"
	"github.com/kagami-sh/kagami/pkg/engine/llm/openaicompat"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	"github.com/kagami-sh/kagami/pkg/engine/stt/whisper"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
	"github.com/kagami-sh/kagami/pkg/engine/tts/localserver"
	"github.com/kagami-sh/kagami/pkg/engine/tts/wsstream"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
	"github.com/kagami-sh/kagami/pkg/engine/vad/energy"
	"github.com/kagami-sh/kagami/pkg/engine/vad/silero"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
	"github.com/kagami-sh/kagami/pkg/engine/wake/openwake"
	"github.com/kagami-sh/kagami/pkg/engine/wake/phonetic"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	userID := flag.String("user", "local", "user id for the standalone session")
	modelID := flag.String("model", "", "model id for the standalone session (default: first configured)")
	mic := flag.Bool("mic", false, "capture the local microphone and feed the pipeline")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kagamid: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kagamid: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("kagamid starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "kagami",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Host profile ──────────────────────────────────────────────────────────
	profile := hostprofile.NewDetector().Detect()
	slog.Info("host detected", "profile", profile.Summary())

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg)

	// ── Instantiate engines ───────────────────────────────────────────────────
	engines, engineClosers, err := buildEngines(cfg, reg)
	if err != nil {
		slog.Error("failed to build engines", "error", err)
		return 1
	}
	defer func() {
		for i := len(engineClosers) - 1; i >= 0; i-- {
			if err := engineClosers[i](); err != nil {
				slog.Warn("engine close error", "error", err)
			}
		}
	}()

	// Size the recommendation against what the engines actually need.
	profile.Recommended = hostprofile.AdjustForEngines(profile, engineProfiles(engines)...)
	slog.Info("engine sizing",
		"llm_variant", profile.Recommended.LLMVariant,
		"stt_variant", profile.Recommended.STTVariant,
		"threads", profile.Recommended.Optimization.Threads,
	)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, profile)

	application, err := app.New(ctx, cfg, engines, app.WithHostProfile(profile))
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── Config watcher (live tunables) ────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyLiveChanges(config.Diff(old, new), new, application, levelVar)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	// ── Standalone session ────────────────────────────────────────────────────
	key := store.Key{UserID: *userID, ModelID: *modelID}
	if key.ModelID == "" && len(cfg.Models) > 0 {
		key.ModelID = cfg.Models[0].ID
	}
	session, err := application.Sessions().Start(ctx, key)
	if err != nil {
		slog.Error("failed to start session", "error", err)
		return 1
	}

	if *mic {
		src := capture.New()
		if err := src.Start(ctx); err != nil {
			slog.Error("failed to open microphone", "error", err)
			return 1
		}
		defer src.Close()
		go func() {
			for f := range src.Frames() {
				session.Push(f)
			}
		}()
	}

	slog.Info("server ready — press Ctrl+C to shut down", "session", key.String())

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires all built-in engine factories into reg.
// Factories close over cfg for the tunables that live outside the engine
// entry (aggressiveness, wake words, data dir).
func registerBuiltinEngines(reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.EngineEntry) (vad.Engine, error) {
		return energy.New(cfg.Pipeline.VADAggressiveness)
	})

	reg.RegisterVAD("silero", func(entry config.EngineEntry) (vad.Engine, error) {
		return silero.New(silero.Config{
			ModelPath:      resolveModelPath(cfg, entry.ModelPath),
			OnnxLibPath:    optString(entry.Options, "onnx_lib"),
			Aggressiveness: cfg.Pipeline.VADAggressiveness,
		})
	})

	// ── Wake ──────────────────────────────────────────────────────────────────
	// The phonetic detector is built in buildEngines: it wraps the STT
	// engine, which a registry factory cannot reach.

	reg.RegisterWake("openwake", func(entry config.EngineEntry) (wake.Detector, error) {
		phraseModels := make(map[string]string)
		if raw, ok := entry.Options["phrase_models"].(map[string]any); ok {
			for phrase, v := range raw {
				if path, ok := v.(string); ok {
					phraseModels[phrase] = resolveModelPath(cfg, path)
				}
			}
		}
		return openwake.New(openwake.Config{
			MelspecModel:   resolveModelPath(cfg, optString(entry.Options, "melspec_model")),
			EmbeddingModel: resolveModelPath(cfg, optString(entry.Options, "embedding_model")),
			PhraseModels:   phraseModels,
			OnnxLibPath:    optString(entry.Options, "onnx_lib"),
			Sensitivity:    cfg.Pipeline.WakeSensitivity,
		})
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.EngineEntry) (stt.Engine, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if threads, ok := entry.Options["threads"].(int); ok && threads > 0 {
			opts = append(opts, whisper.WithThreads(threads))
		}
		return whisper.New(resolveModelPath(cfg, entry.ModelPath), opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.EngineEntry) (llm.Engine, error) {
		var opts []openaicompat.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaicompat.WithBaseURL(entry.BaseURL))
		}
		if entry.APIKey != "" {
			opts = append(opts, openaicompat.WithAPIKey(entry.APIKey))
		}
		return openaicompat.New(entry.Model, opts...)
	})

	// ollama, llamacpp and llamafile are local servers; they use BaseURL
	// for the address, not an API key.
	for _, backend := range []string{"ollama", "llamacpp", "llamafile"} {
		reg.RegisterLLM(backend, func(entry config.EngineEntry) (llm.Engine, error) {
			var opts []anyllmlib.Option
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("localserver", func(entry config.EngineEntry) (tts.Engine, error) {
		var opts []localserver.Option
		if rate, ok := entry.Options["output_rate"].(int); ok && rate > 0 {
			opts = append(opts, localserver.WithOutputRate(rate))
		}
		return localserver.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("wsstream", func(entry config.EngineEntry) (tts.Engine, error) {
		var opts []wsstream.Option
		if rate, ok := entry.Options["sample_rate"].(int); ok && rate > 0 {
			opts = append(opts, wsstream.WithSampleRate(rate))
		}
		return wsstream.New(entry.BaseURL, opts...)
	})
}

// buildEngines instantiates the configured engine set. Basic VAD, STT and
// LLM are required; a broken enhanced or TTS engine degrades the process
// rather than failing it.
func buildEngines(cfg *config.Config, reg *config.Registry) (app.Engines, []func() error, error) {
	var (
		engines app.Engines
		closers []func() error
	)

	fail := func(err error) (app.Engines, []func() error, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return app.Engines{}, nil, err
	}

	// ── Basic pipeline ────────────────────────────────────────────────────────

	vadEng, err := reg.CreateVAD(cfg.Engines.VAD)
	if err != nil {
		return fail(fmt.Errorf("create vad engine %q: %w", cfg.Engines.VAD.Name, err))
	}
	closers = append(closers, vadEng.Close)

	sttEng, err := reg.CreateSTT(cfg.Engines.STT)
	if err != nil {
		return fail(fmt.Errorf("create stt engine %q: %w", cfg.Engines.STT.Name, err))
	}
	closers = append(closers, sttEng.Close)

	engines.Basic = pipeline.Engines{VAD: vadEng, STT: sttEng}

	switch name := cfg.Engines.Wake.Name; name {
	case "":
		// Direct listen: the VAD alone gates recording.
	case "phonetic":
		det, err := phonetic.New(sttEng, cfg.Pipeline.WakeWords,
			phonetic.WithSensitivity(cfg.Pipeline.WakeSensitivity))
		if err != nil {
			return fail(fmt.Errorf("create wake detector %q: %w", name, err))
		}
		closers = append(closers, det.Close)
		engines.Basic.Wake = det
	default:
		det, err := reg.CreateWake(cfg.Engines.Wake)
		if err != nil {
			return fail(fmt.Errorf("create wake detector %q: %w", name, err))
		}
		closers = append(closers, det.Close)
		engines.Basic.Wake = det
	}

	// ── Enhanced pipeline (optional) ──────────────────────────────────────────

	if name := cfg.Engines.EnhancedVAD.Name; name != "" {
		enhVAD, err := reg.CreateVAD(cfg.Engines.EnhancedVAD)
		if err != nil {
			slog.Warn("enhanced VAD unavailable, running basic-only", "name", name, "error", err)
		} else {
			closers = append(closers, enhVAD.Close)
			engines.Enhanced = pipeline.Engines{VAD: enhVAD, STT: sttEng}

			if wname := cfg.Engines.EnhancedWake.Name; wname != "" {
				enhWake, err := reg.CreateWake(cfg.Engines.EnhancedWake)
				if err != nil {
					slog.Warn("enhanced wake detector unavailable, direct-listen", "name", wname, "error", err)
				} else {
					closers = append(closers, enhWake.Close)
					engines.Enhanced.Wake = enhWake
				}
			}
		}
	}

	// ── LLM (with optional fallback chain) ────────────────────────────────────

	llmEng, err := reg.CreateLLM(cfg.Engines.LLM)
	if err != nil {
		return fail(fmt.Errorf("create llm engine %q: %w", cfg.Engines.LLM.Name, err))
	}
	engines.LLM = llmEng

	if name := cfg.Engines.LLMFallback.Name; name != "" {
		secondary, err := reg.CreateLLM(cfg.Engines.LLMFallback)
		if err != nil {
			slog.Warn("llm fallback unavailable", "name", name, "error", err)
		} else {
			fb := resilience.NewLLMFallback(llmEng, cfg.Engines.LLM.Name, resilience.FallbackConfig{})
			fb.AddFallback(name, secondary)
			engines.LLM = fb
			slog.Info("llm fallback chain active", "primary", cfg.Engines.LLM.Name, "fallback", name)
		}
	}
	// The fallback wrapper owns every chained engine.
	closers = append(closers, engines.LLM.Close)

	// ── TTS (optional) ────────────────────────────────────────────────────────

	if name := cfg.Engines.TTS.Name; name != "" {
		ttsEng, err := reg.CreateTTS(cfg.Engines.TTS)
		if err != nil {
			slog.Warn("tts engine unavailable, running text-only", "name", name, "error", err)
		} else {
			closers = append(closers, ttsEng.Close)
			engines.TTS = ttsEng
		}
	}

	return engines, closers, nil
}

// engineProfiles collects the resource profiles of every engine that
// advertises one.
func engineProfiles(engines app.Engines) []engine.ResourceProfile {
	var out []engine.ResourceProfile
	out = append(out, engines.Basic.VAD.Profile(), engines.Basic.STT.Profile())
	if engines.Enhanced.VAD != nil {
		out = append(out, engines.Enhanced.VAD.Profile())
	}
	if engines.TTS != nil {
		out = append(out, engines.TTS.Profile())
	}
	return out
}

// ── Live config changes ───────────────────────────────────────────────────────

// applyLiveChanges pushes the live-tunable parts of a config diff into
// the running application. Anything else logs a restart notice.
func applyLiveChanges(d config.ConfigDiff, newCfg *config.Config, application *app.App, levelVar *slog.LevelVar) {
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VADAggressivenessChanged {
		if err := application.Sessions().SetAggressiveness(d.NewVADAggressiveness); err != nil {
			slog.Warn("failed to apply vad aggressiveness", "error", err)
		} else {
			slog.Info("vad aggressiveness changed", "level", d.NewVADAggressiveness)
		}
	}
	if d.WakeSensitivityChanged {
		if err := application.Sessions().SetWakeSensitivity(d.NewWakeSensitivity); err != nil {
			slog.Warn("failed to apply wake sensitivity", "error", err)
		} else {
			slog.Info("wake sensitivity changed", "value", d.NewWakeSensitivity)
		}
	}
	for _, md := range d.ModelChanges {
		if !md.PersonalityChanged {
			continue
		}
		for _, m := range newCfg.Models {
			if m.ID != md.ID {
				continue
			}
			if err := application.Store().RegisterTemplate(m.ID, m.Personality); err != nil {
				slog.Warn("failed to re-register personality template", "model", m.ID, "error", err)
			} else {
				slog.Info("personality template updated", "model", m.ID)
			}
		}
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, profile hostprofile.Profile) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          kagami — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEngine("VAD", cfg.Engines.VAD.Name, "")
	printEngine("Wake", cfg.Engines.Wake.Name, "")
	printEngine("STT", cfg.Engines.STT.Name, cfg.Engines.STT.Variant)
	printEngine("LLM", cfg.Engines.LLM.Name, cfg.Engines.LLM.Model)
	printEngine("TTS", cfg.Engines.TTS.Name, "")
	if cfg.Engines.EnhancedVAD.Name != "" {
		printEngine("Enhanced VAD", cfg.Engines.EnhancedVAD.Name, "")
	}
	if cfg.Engines.LLMFallback.Name != "" {
		printEngine("LLM fallback", cfg.Engines.LLMFallback.Name, cfg.Engines.LLMFallback.Model)
	}
	fmt.Printf("║  Models          : %-19d ║\n", len(cfg.Models))
	fmt.Printf("║  Wake words      : %-19d ║\n", len(cfg.Pipeline.WakeWords))
	fmt.Printf("║  Host tier       : %-19s ║\n", profile.Tier)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Diagnostics     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEngine(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the default text logger with a live-adjustable level.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// resolveModelPath resolves a relative engine model path under
// <data_dir>/models.
func resolveModelPath(cfg *config.Config, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.Paths.DataDir, "models", path)
}

// optString extracts a string value from an engine Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
