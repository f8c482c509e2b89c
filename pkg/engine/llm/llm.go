// Package llm defines the Engine interface for text-generation backends.
//
// An LLM engine wraps a local inference server (llama.cpp, Ollama,
// llamafile) or a remote API and exposes prompt-in, text-out generation.
// The conversation core builds the full prompt itself — persona, memories,
// transcript — so the contract deliberately takes one prompt string rather
// than structured chat messages.
//
// Implementations must be safe for concurrent use. Channels returned by
// Stream must be closed by the implementation when generation ends or ctx
// is cancelled.
package llm

import (
	"context"
	"strings"
)

// Options tunes a single generation call. The zero value uses backend
// defaults for every knob.
type Options struct {
	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// Temperature controls randomness in [0.0, 2.0]. Zero requests the
	// backend default, which local servers usually treat as greedy-ish.
	Temperature float64

	// TopP is the nucleus sampling cutoff in (0.0, 1.0]. Zero means
	// backend default.
	TopP float64

	// Stop lists sequences that end generation. Backends without native
	// stop support truncate client-side so callers see identical output.
	Stop []string
}

// Chunk is a single fragment emitted by a streaming generation.
type Chunk struct {
	// Text is the incremental content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" (natural end or stop
	// sequence), "length" (MaxTokens reached) or "error". Errors that
	// occur after the stream opened carry the message in Text.
	FinishReason string
}

// Capabilities describes what an engine's backing model supports. The
// result is constant for the lifetime of the Engine.
type Capabilities struct {
	// SupportsStreaming reports whether Stream is functional. Engines
	// without it still implement Stream by wrapping Generate.
	SupportsStreaming bool

	// ContextWindow is the model's token budget for prompt plus output.
	ContextWindow int

	// MaxOutputTokens is the largest completion the model can produce.
	MaxOutputTokens int
}

// Engine is the abstraction over any text-generation backend.
type Engine interface {
	// Generate sends the prompt and waits for the full completion. The
	// returned text is already cut at the first stop sequence. The runtime
	// enforces its per-call timeout through ctx.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Stream sends the prompt and returns a channel emitting chunks as
	// they arrive. The channel is closed when generation finishes or ctx
	// is cancelled; callers must drain it. The initial error is non-nil
	// only when the stream could not start.
	Stream(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error)

	// Capabilities returns static metadata about the backing model.
	Capabilities() Capabilities

	// Close releases client resources. Calling Close more than once is
	// safe.
	Close() error
}

// TruncateAtStop cuts text at the earliest occurrence of any stop
// sequence. Backends that apply stop sequences server-side never need it.
func TruncateAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}

// StopScanner applies stop sequences to a stream of text deltas, catching
// sequences split across delta boundaries. Text that might be the start of
// a stop sequence is held back until the next delta settles it, so emitted
// text never contains any part of a stop marker. Not safe for concurrent
// use; one scanner per stream.
type StopScanner struct {
	stop    []string
	held    string
	stopped bool
}

// NewStopScanner returns a scanner for the given stop sequences. With no
// sequences, Feed passes every delta through unchanged.
func NewStopScanner(stop []string) *StopScanner {
	return &StopScanner{stop: stop}
}

// Feed consumes the next delta and returns the text safe to emit now.
// stopped reports that a stop sequence completed; once stopped, further
// deltas emit nothing.
func (s *StopScanner) Feed(delta string) (emit string, stopped bool) {
	if s.stopped {
		return "", true
	}
	if len(s.stop) == 0 {
		return delta, false
	}

	buf := s.held + delta
	cut := TruncateAtStop(buf, s.stop)
	if len(cut) < len(buf) {
		s.held = ""
		s.stopped = true
		return cut, true
	}

	hold := s.prefixHold(buf)
	s.held = buf[len(buf)-hold:]
	return buf[:len(buf)-hold], false
}

// Flush returns any held-back text once the stream has ended without a
// stop sequence; what looked like the start of one was real output.
func (s *StopScanner) Flush() string {
	h := s.held
	s.held = ""
	return h
}

// prefixHold is the length of the longest suffix of buf that is a proper
// prefix of any stop sequence.
func (s *StopScanner) prefixHold(buf string) int {
	maxHold := 0
	for _, seq := range s.stop {
		limit := len(seq) - 1
		if limit > len(buf) {
			limit = len(buf)
		}
		for l := limit; l > maxHold; l-- {
			if strings.HasPrefix(seq, buf[len(buf)-l:]) {
				maxHold = l
				break
			}
		}
	}
	return maxHold
}
