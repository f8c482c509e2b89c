// Package mock provides a test double for the vad.Engine interface.
//
// Use Engine in unit tests to script speech decisions without a real
// detector. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	e := &mock.Engine{IsSpeechScript: []bool{true, true, false}}
//	speech, err := e.IsSpeech(frame)
package mock

import (
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
)

// Engine is a mock implementation of vad.Engine.
// The zero value reports every frame as silence.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// IsSpeechScript, when non-empty, supplies IsSpeech results in call
	// order. Calls past the end of the script return IsSpeechResult.
	IsSpeechScript []bool

	// IsSpeechResult is returned by IsSpeech once IsSpeechScript is
	// exhausted (or when it is empty).
	IsSpeechResult bool

	// IsSpeechErr, if non-nil, is returned as the error from every
	// IsSpeech call.
	IsSpeechErr error

	// ProfileResponse is returned by Profile.
	ProfileResponse engine.ResourceProfile

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// IsSpeechCalls records a copy of every frame passed to IsSpeech.
	IsSpeechCalls [][]byte

	// SetAggressivenessCalls records every accepted level in order.
	SetAggressivenessCalls []int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	scriptPos int
}

// IsSpeech records the frame and plays back the script.
func (e *Engine) IsSpeech(frame []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)
	e.IsSpeechCalls = append(e.IsSpeechCalls, cp)

	if e.IsSpeechErr != nil {
		return false, e.IsSpeechErr
	}
	if e.scriptPos < len(e.IsSpeechScript) {
		r := e.IsSpeechScript[e.scriptPos]
		e.scriptPos++
		return r, nil
	}
	return e.IsSpeechResult, nil
}

// SetAggressiveness validates the level like a real engine and records it.
func (e *Engine) SetAggressiveness(level int) error {
	if err := vad.CheckAggressiveness(level); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SetAggressivenessCalls = append(e.SetAggressivenessCalls, level)
	return nil
}

// Reset counts the call and rewinds the script.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResetCallCount++
	e.scriptPos = 0
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

// ResetRecords clears all recorded calls and script progress. Thread-safe.
// (Reset is taken by the vad.Engine interface.)
func (e *Engine) ResetRecords() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsSpeechCalls = nil
	e.SetAggressivenessCalls = nil
	e.ResetCallCount = 0
	e.CloseCallCount = 0
	e.scriptPos = 0
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)
