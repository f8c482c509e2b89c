// Package wake defines the Detector interface for wake-word spotting.
//
// A detector scans the trailing seconds of captured audio for a configured
// wake phrase ("hey kagami"). The pipeline calls [Detector.Detect] each
// time the trailing window has grown by at least one frame, so detectors
// must be cheap per call; implementations throttle internally when a full
// evaluation is expensive.
//
// Two families of implementation exist: keyword spotting on the raw audio
// (the openWakeWord ONNX pipeline) and transcribe-then-match (a small STT
// pass over the window followed by phonetic matching). Both report the
// canonical configured phrase, never the raw transcription.
package wake

import (
	"context"
	"fmt"
	"time"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// DefaultSensitivity is the trigger eagerness used when none is configured.
const DefaultSensitivity = 0.5

// DefaultWindow is the trailing audio span the pipeline should hand to
// Detect. Shorter windows may miss the start of the phrase; longer ones
// add latency and cost.
const DefaultWindow = 3 * time.Second

// Detector spots a configured wake phrase in a trailing audio window.
type Detector interface {
	// Detect scans window (16 kHz mono little-endian int16 PCM) for a wake
	// phrase. ok reports whether one was found; word is the canonical
	// phrase as configured. A window too short to evaluate is not an
	// error: Detect returns ok == false.
	Detect(ctx context.Context, window []byte) (word string, ok bool, err error)

	// SetSensitivity adjusts trigger eagerness in [0, 1]: 0 is strict
	// (fewest false accepts), 1 is eager (fewest misses). Takes effect on
	// the next Detect call.
	SetSensitivity(s float64) error

	// Profile reports the detector's resource expectations.
	Profile() engine.ResourceProfile

	// Close releases models and internal state. Calling Close more than
	// once is safe.
	Close() error
}

// CheckSensitivity validates a sensitivity value.
func CheckSensitivity(s float64) error {
	if s < 0 || s > 1 {
		return fmt.Errorf("wake: sensitivity %v outside [0, 1]", s)
	}
	return nil
}
