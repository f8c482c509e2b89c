package resilience

import (
	"context"
	"errors"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
)

// STTFallback implements [stt.Engine] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Engine]
}

// Compile-time interface assertion.
var _ stt.Engine = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Engine, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT engine as a fallback.
func (f *STTFallback) AddFallback(name string, engine stt.Engine) {
	f.group.AddFallback(name, engine)
}

// Transcribe converts the utterance with the first healthy engine. If the
// primary fails, subsequent fallbacks are tried on the same audio.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(e stt.Engine) (stt.Result, error) {
		return e.Transcribe(ctx, pcm)
	})
}

// Profile reports the primary's resource expectations. Fallbacks are
// assumed to be no heavier than the primary.
func (f *STTFallback) Profile() engine.ResourceProfile {
	if len(f.group.chain) > 0 {
		return f.group.chain[0].engine.Profile()
	}
	return engine.ResourceProfile{}
}

// Close closes every engine in the chain.
func (f *STTFallback) Close() error {
	var errs []error
	for i := range f.group.chain {
		if err := f.group.chain[i].engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
