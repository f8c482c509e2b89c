// Package mock provides a test double for the wake.Detector interface.
//
// Use Detector in unit tests to script wake detections without models or
// audio. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
package mock

import (
	"context"
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Detection is one scripted Detect outcome.
type Detection struct {
	// Word is the canonical phrase to report.
	Word string
	// OK reports whether this call detects anything.
	OK bool
}

// DetectCall records a single invocation of Detect.
type DetectCall struct {
	// Ctx is the context passed to Detect.
	Ctx context.Context
	// WindowLen is the byte length of the window passed to Detect.
	WindowLen int
}

// Detector is a mock implementation of wake.Detector.
// The zero value never detects anything.
type Detector struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DetectScript, when non-empty, supplies Detect outcomes in call
	// order. Calls past the end return DetectResult.
	DetectScript []Detection

	// DetectResult is returned once DetectScript is exhausted (or when it
	// is empty).
	DetectResult Detection

	// DetectErr, if non-nil, is returned as the error from every Detect
	// call.
	DetectErr error

	// ProfileResponse is returned by Profile.
	ProfileResponse engine.ResourceProfile

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// DetectCalls records every invocation of Detect in order.
	DetectCalls []DetectCall

	// SensitivityCalls records every accepted sensitivity in order.
	SensitivityCalls []float64

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	scriptPos int
}

// Detect records the call and plays back the script.
func (d *Detector) Detect(ctx context.Context, window []byte) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DetectCalls = append(d.DetectCalls, DetectCall{Ctx: ctx, WindowLen: len(window)})

	if d.DetectErr != nil {
		return "", false, d.DetectErr
	}
	if d.scriptPos < len(d.DetectScript) {
		r := d.DetectScript[d.scriptPos]
		d.scriptPos++
		return r.Word, r.OK, nil
	}
	return d.DetectResult.Word, d.DetectResult.OK, nil
}

// SetSensitivity validates the value like a real detector and records it.
func (d *Detector) SetSensitivity(s float64) error {
	if err := wake.CheckSensitivity(s); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SensitivityCalls = append(d.SensitivityCalls, s)
	return nil
}

// Profile returns ProfileResponse.
func (d *Detector) Profile() engine.ResourceProfile {
	return d.ProfileResponse
}

// Close counts the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Reset clears all recorded calls and script progress. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
	d.SensitivityCalls = nil
	d.CloseCallCount = 0
	d.scriptPos = 0
}

// Ensure Detector implements wake.Detector at compile time.
var _ wake.Detector = (*Detector)(nil)
