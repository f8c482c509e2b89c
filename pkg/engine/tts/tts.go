// Package tts defines the Engine interface for speech-synthesis backends.
//
// A TTS engine turns one reply into one PCM clip. The conversation flow is
// turn-based — the avatar speaks complete sentences, not token-by-token
// audio — so the contract is batch: text plus an emotional rendering hint
// in, a [Clip] out at the engine's declared sample rate. Playback pacing
// and any transport encoding are the caller's concern.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// Options tunes a single synthesis call. The zero value uses the engine's
// configured voice with a neutral rendering.
type Options struct {
	// Emotion is the expressive style tag ("happy", "sad", "concerned",
	// "neutral", ...). Engines without emotional rendering ignore it.
	Emotion string

	// Intensity scales the emotional rendering in [0, 1]. Zero means the
	// engine default.
	Intensity float64

	// Voice overrides the engine's configured voice for this call. Empty
	// keeps the configured voice.
	Voice string
}

// Clip is a completed synthesis result.
type Clip struct {
	// PCM holds little-endian int16 mono samples.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Engine is the abstraction over any speech-synthesis backend.
type Engine interface {
	// Synthesize renders text as speech. It honours ctx cancellation and
	// deadlines; the runtime enforces a per-call timeout through ctx.
	//
	// Errors wrap [engine.ErrUnavailable] when the backend cannot serve.
	Synthesize(ctx context.Context, text string, opts Options) (Clip, error)

	// SampleRate reports the rate of clips this engine produces, constant
	// for the engine's lifetime.
	SampleRate() int

	// Profile reports the engine's resource expectations.
	Profile() engine.ResourceProfile

	// Close releases client resources. Calling Close more than once is
	// safe.
	Close() error
}

// CheckIntensity validates an emotional intensity value.
func CheckIntensity(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("tts: intensity %v outside [0, 1]", v)
	}
	return nil
}
