package resilience

import (
	"context"
	"errors"

	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

// LLMFallback implements [llm.Engine] with automatic failover across multiple
// text-generation backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Engine]
}

// Compile-time interface assertion.
var _ llm.Engine = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Engine, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM engine as a fallback.
func (f *LLMFallback) AddFallback(name string, engine llm.Engine) {
	f.group.AddFallback(name, engine)
}

// Generate sends the prompt to the first healthy engine and returns its
// completion. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	return ExecuteWithResult(f.group, func(e llm.Engine) (string, error) {
		return e.Generate(ctx, prompt, opts)
	})
}

// Stream sends the prompt to the first healthy engine and returns its chunk
// channel. Note: only the initial connection attempt is covered by failover;
// once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) Stream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(e llm.Engine) (<-chan llm.Chunk, error) {
		return e.Stream(ctx, prompt, opts)
	})
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() llm.Capabilities {
	if len(f.group.chain) > 0 {
		return f.group.chain[0].engine.Capabilities()
	}
	return llm.Capabilities{}
}

// Close closes every engine in the chain.
func (f *LLMFallback) Close() error {
	var errs []error
	for i := range f.group.chain {
		if err := f.group.chain[i].engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
