// Package mock provides a test double for the llm.Engine interface.
//
// Use Engine in unit tests to verify prompts and feed controlled
// completions without a live backend. All fields are safe to set before
// calling any method; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	e := &mock.Engine{GenerateResponse: "Hello!"}
//	text, err := e.Generate(ctx, prompt, llm.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Prompt is the prompt passed to Generate.
	Prompt string
	// Opts are the options passed to Generate.
	Opts llm.Options
}

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Prompt is the prompt passed to Stream.
	Prompt string
	// Opts are the options passed to Stream.
	Opts llm.Options
}

// Engine is a mock implementation of llm.Engine.
// Zero values for response fields cause methods to return zero values and
// nil errors.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateScript, when non-empty, supplies Generate results in call
	// order. Calls past the end return GenerateResponse.
	GenerateScript []string

	// GenerateResponse is returned by Generate once GenerateScript is
	// exhausted (or when it is empty).
	GenerateResponse string

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by Stream. All chunks are sent before the channel closes.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from Stream instead
	// of opening a channel.
	StreamErr error

	// CapabilitiesResponse is returned by Capabilities.
	CapabilitiesResponse llm.Capabilities

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records (read after test) ---

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	scriptPos int
}

// Generate records the call and plays back the script.
func (e *Engine) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.GenerateCalls = append(e.GenerateCalls, GenerateCall{Ctx: ctx, Prompt: prompt, Opts: opts})

	if e.GenerateErr != nil {
		return "", e.GenerateErr
	}
	if e.scriptPos < len(e.GenerateScript) {
		r := e.GenerateScript[e.scriptPos]
		e.scriptPos++
		return r, nil
	}
	return e.GenerateResponse, nil
}

// Stream records the call and returns a channel that emits StreamChunks.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (e *Engine) Stream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	e.mu.Lock()
	e.StreamCalls = append(e.StreamCalls, StreamCall{Ctx: ctx, Prompt: prompt, Opts: opts})
	if e.StreamErr != nil {
		err := e.StreamErr
		e.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(e.StreamChunks))
	copy(chunks, e.StreamChunks)
	e.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Capabilities returns CapabilitiesResponse.
func (e *Engine) Capabilities() llm.Capabilities {
	return e.CapabilitiesResponse
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
	e.GenerateCalls = nil
	e.StreamCalls = nil
	e.CloseCallCount = 0
	e.scriptPos = 0
}

// Ensure Engine implements llm.Engine at compile time.
var _ llm.Engine = (*Engine)(nil)
