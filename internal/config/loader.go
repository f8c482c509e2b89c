package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists known engine names per engine kind.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = map[string][]string{
	"vad":  {"energy", "silero"},
	"wake": {"phonetic", "openwake"},
	"stt":  {"whisper"},
	"llm":  {"openai", "ollama", "llamacpp", "llamafile"},
	"tts":  {"localserver", "wsstream"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data"
	}
	if cfg.Paths.CacheDir == "" {
		cfg.Paths.CacheDir = "cache"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	for i := range cfg.Models {
		if cfg.Models[i].DisplayName == "" {
			cfg.Models[i].DisplayName = cfg.Models[i].ID
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine name validation — warn for unknown engine names.
	validateEngineName("vad", cfg.Engines.VAD.Name)
	validateEngineName("vad", cfg.Engines.EnhancedVAD.Name)
	validateEngineName("wake", cfg.Engines.Wake.Name)
	validateEngineName("wake", cfg.Engines.EnhancedWake.Name)
	validateEngineName("stt", cfg.Engines.STT.Name)
	validateEngineName("llm", cfg.Engines.LLM.Name)
	validateEngineName("llm", cfg.Engines.LLMFallback.Name)
	validateEngineName("tts", cfg.Engines.TTS.Name)

	// Engine availability warnings
	if cfg.Engines.LLM.Name == "" && len(cfg.Models) > 0 {
		slog.Warn("no LLM engine configured; avatars will not be able to generate responses")
	}
	if cfg.Engines.TTS.Name == "" && len(cfg.Models) > 0 {
		slog.Warn("no TTS engine configured; responses will be text-only")
	}

	// Pipeline tunables
	if a := cfg.Pipeline.VADAggressiveness; a < 0 || a > 3 {
		errs = append(errs, fmt.Errorf("pipeline.vad_aggressiveness %d is out of range [0, 3]", a))
	}
	if s := cfg.Pipeline.WakeSensitivity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("pipeline.wake_sensitivity %.2f is out of range [0, 1]", s))
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"pipeline.wake_timeout", cfg.Pipeline.WakeTimeout},
		{"pipeline.silence_timeout", cfg.Pipeline.SilenceTimeout},
		{"pipeline.min_speech", cfg.Pipeline.MinSpeech},
		{"pipeline.prefix_padding", cfg.Pipeline.PrefixPadding},
		{"pipeline.stt_timeout", cfg.Pipeline.STTTimeout},
		{"conversation.cache_ttl", cfg.Conversation.CacheTTL},
		{"conversation.llm_timeout", cfg.Conversation.LLMTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	// Model duplicate ID detection and trait ranges.
	idsSeen := make(map[string]int, len(cfg.Models))
	for i, m := range cfg.Models {
		prefix := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[m.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of models[%d]", prefix, m.ID, prev))
			}
			idsSeen[m.ID] = i
		}
		for trait, v := range m.Personality {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("%s.personality.%s %.2f is out of range [0, 1]", prefix, trait, v))
			}
		}
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not found in
// the [ValidEngineNames] list for the given kind.
func validateEngineName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidEngineNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown engine name — may be a typo or third-party engine",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
