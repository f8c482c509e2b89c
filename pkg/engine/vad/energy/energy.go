// Package energy implements the basic VAD engine using adaptive RMS
// thresholding. It has no model files and no external dependencies, so it
// is always available — the dual pipeline falls back to it when the neural
// engine cannot run.
//
// A frame is speech when its RMS exceeds both an absolute floor and a
// multiple of the tracked noise floor. The noise floor is an exponential
// moving average updated only by non-speech frames, so sustained speech
// does not raise it.
package energy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
)

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// Per-aggressiveness tuning. Index is the aggressiveness level.
var (
	// absFloor is the minimum normalised RMS a speech frame must reach.
	absFloor = [4]float64{0.0040, 0.0075, 0.0125, 0.0200}

	// floorRatio is the required ratio of frame RMS to the noise floor.
	floorRatio = [4]float64{1.5, 2.0, 3.0, 4.5}
)

// noiseAlpha is the EMA coefficient for noise floor updates.
const noiseAlpha = 0.05

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithInitialNoiseFloor seeds the noise floor estimate. Useful when the
// ambient level is known (e.g. restored from a previous session).
func WithInitialNoiseFloor(rms float64) Option {
	return func(e *Engine) {
		e.initialFloor = rms
	}
}

// Engine is the adaptive-energy VAD. Safe for the pipeline's single-scorer,
// any-goroutine-tuner usage pattern.
type Engine struct {
	aggressiveness atomic.Int32

	mu           sync.Mutex
	noiseFloor   float64
	initialFloor float64
}

// New creates an energy Engine at the given aggressiveness level.
func New(aggressiveness int, opts ...Option) (*Engine, error) {
	if err := vad.CheckAggressiveness(aggressiveness); err != nil {
		return nil, err
	}
	e := &Engine{initialFloor: 0.002}
	for _, o := range opts {
		o(e)
	}
	e.aggressiveness.Store(int32(aggressiveness))
	e.noiseFloor = e.initialFloor
	return e, nil
}

// IsSpeech scores one frame. Frames of invalid size return an error
// wrapping [engine.ErrDecodeFailed].
func (e *Engine) IsSpeech(frame []byte) (bool, error) {
	if !vad.ValidFrame(frame) {
		return false, fmt.Errorf("energy: frame of %d bytes: %w", len(frame), engine.ErrDecodeFailed)
	}

	level := int(e.aggressiveness.Load())
	rms := audio.RMS(frame)

	e.mu.Lock()
	defer e.mu.Unlock()

	speech := rms >= absFloor[level] && rms >= e.noiseFloor*floorRatio[level]
	if !speech {
		e.noiseFloor = (1-noiseAlpha)*e.noiseFloor + noiseAlpha*rms
	}
	return speech, nil
}

// SetAggressiveness switches the detection mode; effective next frame.
func (e *Engine) SetAggressiveness(level int) error {
	if err := vad.CheckAggressiveness(level); err != nil {
		return err
	}
	e.aggressiveness.Store(int32(level))
	return nil
}

// Reset restores the seeded noise floor.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.noiseFloor = e.initialFloor
	e.mu.Unlock()
}

// Profile reports negligible resource needs.
func (e *Engine) Profile() engine.ResourceProfile {
	return engine.ResourceProfile{EstimatedRAMMB: 1, CPUThreads: 1}
}

// Close is a no-op; the engine holds no resources.
func (e *Engine) Close() error { return nil }
