// Package stt defines the Engine interface for speech-to-text backends.
//
// An STT engine turns a complete recorded utterance into text in one shot.
// The runtime records until the speaker goes quiet and only then
// transcribes, so the contract is batch rather than streaming: one PCM
// buffer in, one [Result] out. Engines may parallelise internally but must
// not retain the buffer after returning.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech, whitespace-trimmed.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// backend does not report confidence.
	Confidence float64

	// Language is the BCP-47 tag of the detected or configured language.
	Language string

	// Latency is how long the engine spent transcribing.
	Latency time.Duration
}

// Engine is the abstraction over any STT backend.
type Engine interface {
	// Transcribe converts one utterance of 16 kHz mono little-endian int16
	// PCM into text. It honours ctx cancellation and deadlines; the runtime
	// enforces a per-call timeout through ctx.
	//
	// Errors wrap [engine.ErrUnavailable] when the backend cannot serve
	// (model not loaded, process gone) and [engine.ErrDecodeFailed] when
	// the audio itself cannot be processed.
	Transcribe(ctx context.Context, pcm []byte) (Result, error)

	// Profile reports the engine's resource expectations, used by the host
	// profiler to pick model variants.
	Profile() engine.ResourceProfile

	// Close releases the model and any worker state. Calling Close more
	// than once is safe.
	Close() error
}
