// Package mock provides a test double for the stt.Engine interface.
//
// Use Engine in unit tests to feed controlled transcripts without a live
// model. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	e := &mock.Engine{TranscribeResult: stt.Result{Text: "hello there"}}
//	res, err := e.Transcribe(ctx, pcm)
package mock

import (
	"context"
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
}

// Engine is a mock implementation of stt.Engine.
// Zero values cause methods to return zero values and nil errors.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeScript, when non-empty, supplies Transcribe results in
	// call order. Calls past the end return TranscribeResult.
	TranscribeScript []stt.Result

	// TranscribeResult is returned by Transcribe once TranscribeScript is
	// exhausted (or when it is empty).
	TranscribeResult stt.Result

	// TranscribeErr, if non-nil, is returned as the error from every
	// Transcribe call.
	TranscribeErr error

	// ProfileResponse is returned by Profile.
	ProfileResponse engine.ResourceProfile

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	scriptPos int
}

// Transcribe records the call and plays back the script.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) (stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: cp})

	if e.TranscribeErr != nil {
		return stt.Result{}, e.TranscribeErr
	}
	if e.scriptPos < len(e.TranscribeScript) {
		r := e.TranscribeScript[e.scriptPos]
		e.scriptPos++
		return r, nil
	}
	return e.TranscribeResult, nil
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

// Reset clears all recorded calls and script progress. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
	e.CloseCallCount = 0
	e.scriptPos = 0
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)
