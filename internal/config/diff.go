package config

import "maps"

// ConfigDiff describes what changed between two configs. Live-tunable
// fields (log level, VAD aggressiveness, wake sensitivity, model
// personalities) carry their new values; everything else only sets
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADAggressivenessChanged bool
	NewVADAggressiveness     int

	WakeSensitivityChanged bool
	NewWakeSensitivity     float64

	// ModelChanges lists per-model template updates.
	ModelsChanged bool
	ModelChanges  []ModelDiff

	// RestartRequired is set when a change cannot be applied to the
	// running process (engines, paths, listen address, pipeline timing).
	RestartRequired bool
}

// ModelDiff describes what changed for a single avatar model.
type ModelDiff struct {
	ID                 string
	PersonalityChanged bool
	VoiceChanged       bool
	Added              bool
	Removed            bool
}

// HasLiveChanges reports whether any hot-applicable change is present.
func (d ConfigDiff) HasLiveChanges() bool {
	return d.LogLevelChanged || d.VADAggressivenessChanged ||
		d.WakeSensitivityChanged || d.ModelsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.VADAggressiveness != new.Pipeline.VADAggressiveness {
		d.VADAggressivenessChanged = true
		d.NewVADAggressiveness = new.Pipeline.VADAggressiveness
	}
	if old.Pipeline.WakeSensitivity != new.Pipeline.WakeSensitivity {
		d.WakeSensitivityChanged = true
		d.NewWakeSensitivity = new.Pipeline.WakeSensitivity
	}

	diffModels(old, new, &d)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Paths != new.Paths ||
		enginesChanged(&old.Engines, &new.Engines) ||
		pipelineTimingChanged(&old.Pipeline, &new.Pipeline) ||
		old.Conversation != new.Conversation {
		d.RestartRequired = true
	}

	return d
}

func diffModels(old, new *Config, d *ConfigDiff) {
	oldModels := make(map[string]*ModelConfig, len(old.Models))
	for i := range old.Models {
		oldModels[old.Models[i].ID] = &old.Models[i]
	}
	newModels := make(map[string]*ModelConfig, len(new.Models))
	for i := range new.Models {
		newModels[new.Models[i].ID] = &new.Models[i]
	}

	for id, om := range oldModels {
		nm, exists := newModels[id]
		if !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{ID: id, Removed: true})
			d.ModelsChanged = true
			continue
		}
		md := ModelDiff{ID: id}
		if !maps.Equal(om.Personality, nm.Personality) {
			md.PersonalityChanged = true
		}
		if om.Voice != nm.Voice {
			md.VoiceChanged = true
		}
		if om.Live2DPath != nm.Live2DPath {
			// Swapping model assets needs a motion cache rebuild and a
			// session restart.
			d.RestartRequired = true
		}
		if md.PersonalityChanged || md.VoiceChanged {
			d.ModelChanges = append(d.ModelChanges, md)
			d.ModelsChanged = true
		}
	}

	for id := range newModels {
		if _, exists := oldModels[id]; !exists {
			d.ModelChanges = append(d.ModelChanges, ModelDiff{ID: id, Added: true})
			d.ModelsChanged = true
		}
	}
}

// enginesChanged reports whether any engine entry differs. Engine swaps
// always need a restart.
func enginesChanged(old, new *EnginesConfig) bool {
	entries := []struct{ o, n EngineEntry }{
		{old.VAD, new.VAD},
		{old.Wake, new.Wake},
		{old.STT, new.STT},
		{old.LLM, new.LLM},
		{old.TTS, new.TTS},
		{old.EnhancedVAD, new.EnhancedVAD},
		{old.EnhancedWake, new.EnhancedWake},
		{old.LLMFallback, new.LLMFallback},
	}
	for _, e := range entries {
		if e.o.Name != e.n.Name || e.o.ModelPath != e.n.ModelPath ||
			e.o.BaseURL != e.n.BaseURL || e.o.APIKey != e.n.APIKey ||
			e.o.Model != e.n.Model || e.o.Variant != e.n.Variant {
			return true
		}
	}
	return false
}

// pipelineTimingChanged reports whether a non-live pipeline field differs.
func pipelineTimingChanged(old, new *PipelineConfig) bool {
	if len(old.WakeWords) != len(new.WakeWords) {
		return true
	}
	for i := range old.WakeWords {
		if old.WakeWords[i] != new.WakeWords[i] {
			return true
		}
	}
	return old.WakeTimeout != new.WakeTimeout ||
		old.SilenceTimeout != new.SilenceTimeout ||
		old.MinSpeech != new.MinSpeech ||
		old.PrefixPadding != new.PrefixPadding ||
		old.STTTimeout != new.STTTimeout
}
