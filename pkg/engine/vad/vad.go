// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine scores single PCM frames — 10, 20 or 30 ms of 16 kHz mono
// little-endian int16 — and reports whether the frame contains speech. The
// pipeline consumer calls IsSpeech inline for every frame, so
// implementations must answer in well under the frame duration.
//
// Engines keep inter-frame state (adaptive noise floors, model hidden
// state); Reset clears it when the pipeline restarts a listening cycle.
// Aggressiveness is adjustable at runtime and takes effect on the next
// frame.
package vad

import (
	"fmt"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// Aggressiveness bounds. Higher levels classify more audio as non-speech.
const (
	MinAggressiveness = 0
	MaxAggressiveness = 3
)

// FrameBytes lists the valid frame payload sizes at 16 kHz mono int16:
// 10, 20 and 30 ms.
var FrameBytes = [3]int{320, 640, 960}

// Engine is the abstraction over any voice activity detector.
//
// IsSpeech and SetAggressiveness may be called from different goroutines;
// implementations must make aggressiveness changes visible to the next
// IsSpeech call without locking the scoring path.
type Engine interface {
	// IsSpeech reports whether the frame contains speech. frame must be one
	// of the sizes in [FrameBytes]; anything else returns an error wrapping
	// [engine.ErrDecodeFailed].
	IsSpeech(frame []byte) (bool, error)

	// SetAggressiveness switches the detection mode. Valid levels are 0
	// (most permissive) through 3 (most aggressive). The new level applies
	// from the next frame.
	SetAggressiveness(level int) error

	// Reset clears inter-frame state.
	Reset()

	// Profile reports the engine's resource expectations.
	Profile() engine.ResourceProfile

	// Close releases the engine's resources.
	Close() error
}

// ValidFrame reports whether frame has one of the permitted payload sizes.
func ValidFrame(frame []byte) bool {
	for _, n := range FrameBytes {
		if len(frame) == n {
			return true
		}
	}
	return false
}

// CheckAggressiveness validates an aggressiveness level.
func CheckAggressiveness(level int) error {
	if level < MinAggressiveness || level > MaxAggressiveness {
		return fmt.Errorf("vad: aggressiveness %d out of range [%d,%d]",
			level, MinAggressiveness, MaxAggressiveness)
	}
	return nil
}
