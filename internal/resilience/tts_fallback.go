package resilience

import (
	"context"
	"errors"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// TTSFallback implements [tts.Engine] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Engine]
}

// Compile-time interface assertion.
var _ tts.Engine = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Engine, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS engine as a fallback.
func (f *TTSFallback) AddFallback(name string, engine tts.Engine) {
	f.group.AddFallback(name, engine)
}

// Synthesize renders the text with the first healthy engine. If the primary
// fails, subsequent fallbacks are tried on the same text.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Clip, error) {
	return ExecuteWithResult(f.group, func(e tts.Engine) (tts.Clip, error) {
		return e.Synthesize(ctx, text, opts)
	})
}

// SampleRate reports the primary's output rate. Clips carry their own
// rate, so a fallback serving at a different rate is still playable.
func (f *TTSFallback) SampleRate() int {
	if len(f.group.chain) > 0 {
		return f.group.chain[0].engine.SampleRate()
	}
	return 0
}

// Profile reports the primary's resource expectations.
func (f *TTSFallback) Profile() engine.ResourceProfile {
	if len(f.group.chain) > 0 {
		return f.group.chain[0].engine.Profile()
	}
	return engine.ResourceProfile{}
}

// Close closes every engine in the chain.
func (f *TTSFallback) Close() error {
	var errs []error
	for i := range f.group.chain {
		if err := f.group.chain[i].engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
