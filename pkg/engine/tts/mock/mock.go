// Package mock provides a test double for the tts.Engine interface.
//
// Use Engine in unit tests to capture synthesis requests and return
// controlled clips without a live server. All fields are safe to set
// before calling any method; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	e := &mock.Engine{SynthesizeClip: tts.Clip{PCM: pcm, SampleRate: 22050}}
//	clip, err := e.Synthesize(ctx, "hello", tts.Options{Emotion: "happy"})
package mock

import (
	"context"
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Opts are the options passed to Synthesize.
	Opts tts.Options
}

// Engine is a mock implementation of tts.Engine.
// Zero values cause methods to return zero values and nil errors.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeClip is returned by Synthesize.
	SynthesizeClip tts.Clip

	// SynthesizeErr, if non-nil, is returned as the error from every
	// Synthesize call.
	SynthesizeErr error

	// Rate is returned by SampleRate. Zero defaults to 22050.
	Rate int

	// ProfileResponse is returned by Profile.
	ProfileResponse engine.ResourceProfile

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Synthesize records the call and returns the configured clip.
func (e *Engine) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.SynthesizeCalls = append(e.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Opts: opts})

	if e.SynthesizeErr != nil {
		return tts.Clip{}, e.SynthesizeErr
	}
	return e.SynthesizeClip, nil
}

// SampleRate returns Rate, defaulting to 22050.
func (e *Engine) SampleRate() int {
	if e.Rate == 0 {
		return 22050
	}
	return e.Rate
}

// Profile returns ProfileResponse.
func (e *Engine) Profile() engine.ResourceProfile {
	return e.ProfileResponse
}

// Close counts the call and returns CloseErr.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SynthesizeCalls = nil
	e.CloseCallCount = 0
}

// Ensure Engine implements tts.Engine at compile time.
var _ tts.Engine = (*Engine)(nil)
