// Package config provides the configuration schema, loader, and engine
// registry for the Kagami avatar server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Kagami server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML configs can use human-readable
// values like "1.5s" or "300ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string (or integer nanoseconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("config: invalid duration node %q", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Kagami.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Paths        PathsConfig        `yaml:"paths"`
	Engines      EnginesConfig      `yaml:"engines"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Conversation ConversationConfig `yaml:"conversation"`
	Models       []ModelConfig      `yaml:"models"`
}

// ServerConfig holds the diagnostics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the diagnostics HTTP server
	// (/healthz, /readyz, /metrics). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Live-tunable.
	LogLevel LogLevel `yaml:"log_level"`
}

// PathsConfig locates the on-disk directories Kagami owns.
type PathsConfig struct {
	// DataDir holds databases/, models/, and live2d_models/.
	// Default: "data".
	DataDir string `yaml:"data_dir"`

	// CacheDir holds logs/ and sessions/. Default: "cache".
	CacheDir string `yaml:"cache_dir"`
}

// EnginesConfig declares which engine implementation to use for each
// pipeline stage. Each entry selects a named factory registered in the
// [Registry]. Basic entries cover the always-available fallback path;
// the enhanced entries are optional upgrades.
type EnginesConfig struct {
	VAD  EngineEntry `yaml:"vad"`
	Wake EngineEntry `yaml:"wake"`
	STT  EngineEntry `yaml:"stt"`
	LLM  EngineEntry `yaml:"llm"`
	TTS  EngineEntry `yaml:"tts"`

	// EnhancedVAD and EnhancedWake configure the enhanced pipeline.
	// When EnhancedVAD is unset the app runs basic-only.
	EnhancedVAD  EngineEntry `yaml:"enhanced_vad"`
	EnhancedWake EngineEntry `yaml:"enhanced_wake"`

	// LLMFallback is an optional secondary text-generation backend
	// tried when the primary fails.
	LLMFallback EngineEntry `yaml:"llm_fallback"`
}

// EngineEntry is the common configuration block shared by all engine
// kinds. The Name field is used to look up the factory in the [Registry].
type EngineEntry struct {
	// Name selects the registered engine implementation
	// (e.g., "silero", "whisper", "llamacpp").
	Name string `yaml:"name"`

	// ModelPath points at the engine's model file, relative paths are
	// resolved under <data_dir>/models.
	ModelPath string `yaml:"model_path"`

	// BaseURL overrides the engine's default server endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against remote backends, if any.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the backend
	// (e.g., "llama3.2", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Variant selects a model size tier; empty lets the host profile
	// detector pick one (tiny/small/medium for LLM, base…large for STT).
	Variant string `yaml:"variant"`

	// Options holds engine-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the audio pipeline state machine.
type PipelineConfig struct {
	// WakeWords lists the accepted wake phrases.
	WakeWords []string `yaml:"wake_words"`

	// VADAggressiveness is the voice activity filter level in [0, 3].
	// Live-tunable.
	VADAggressiveness int `yaml:"vad_aggressiveness"`

	// WakeSensitivity is the wake detector threshold in [0, 1].
	// Live-tunable.
	WakeSensitivity float64 `yaml:"wake_sensitivity"`

	// WakeTimeout bounds the WAKE_DETECTED wait for speech. Default 10s.
	WakeTimeout Duration `yaml:"wake_timeout"`

	// SilenceTimeout ends a recording after this much trailing silence.
	// Default 1.5s.
	SilenceTimeout Duration `yaml:"silence_timeout"`

	// MinSpeech discards recordings with less voiced audio than this.
	// Default 500ms.
	MinSpeech Duration `yaml:"min_speech"`

	// PrefixPadding is how much pre-speech audio is kept. Default 300ms.
	PrefixPadding Duration `yaml:"prefix_padding"`

	// STTTimeout bounds one transcription call. Default 12s.
	STTTimeout Duration `yaml:"stt_timeout"`
}

// ConversationConfig tunes the conversation core.
type ConversationConfig struct {
	// HistoryDepth is how many recent messages are loaded per turn.
	HistoryDepth int `yaml:"history_depth"`

	// MemoryDepth is how many top memories go into the prompt.
	MemoryDepth int `yaml:"memory_depth"`

	// MaxTokens caps each completion.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is passed through to the LLM.
	Temperature float64 `yaml:"temperature"`

	// CacheTTL is the response cache lifetime. Default 24h.
	CacheTTL Duration `yaml:"cache_ttl"`

	// LLMTimeout bounds one generation call. Default 30s.
	LLMTimeout Duration `yaml:"llm_timeout"`
}

// ModelConfig describes one avatar model: its identity, Live2D assets,
// and personality template.
type ModelConfig struct {
	// ID is the stable model identifier used in interaction keys.
	ID string `yaml:"id"`

	// DisplayName is shown to users; defaults to ID.
	DisplayName string `yaml:"display_name"`

	// Live2DPath is the model directory under <data_dir>/live2d_models
	// containing the *.model3.json manifest.
	Live2DPath string `yaml:"live2d_path"`

	// Voice is the TTS voice identifier for this model.
	Voice string `yaml:"voice"`

	// Personality maps trait names to base values in [0, 1]. Registered
	// as the model's template on startup.
	Personality map[string]float64 `yaml:"personality"`
}
