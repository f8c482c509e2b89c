// Package whisper implements [stt.Engine] on the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h)
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across calls; each
// Transcribe runs inference on a fresh whisper context, so concurrent
// calls do not interfere.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
)

// Compile-time assertion that Engine satisfies stt.Engine.
var _ stt.Engine = (*Engine)(nil)

const defaultLanguage = "en"

// ramByVariant estimates resident memory per ggml model family, used for
// host-tier recommendations.
var ramByVariant = map[string]int{
	"tiny":   390,
	"base":   500,
	"small":  1000,
	"medium": 2600,
	"large":  4700,
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de", "ja"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithThreads caps the inference thread count. Zero lets whisper.cpp pick.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// Engine is a batch transcriber over a shared whisper.cpp model.
type Engine struct {
	model    whisperlib.Model
	language string
	threads  int
	variant  string

	mu     sync.Mutex
	closed bool
}

// New loads the ggml model from modelPath. The caller must call Close when
// the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %v: %w", modelPath, err, engine.ErrUnavailable)
	}

	e := &Engine{
		model:    model,
		language: defaultLanguage,
		variant:  variantFromPath(modelPath),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe runs one inference over the utterance. The blocking CGO call
// runs on its own goroutine so ctx deadlines are honoured; an abandoned
// inference finishes in the background and its result is dropped.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte) (stt.Result, error) {
	if len(pcm) < audio.BytesPerSample {
		return stt.Result{}, fmt.Errorf("whisper: empty audio: %w", engine.ErrDecodeFailed)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return stt.Result{}, fmt.Errorf("whisper: engine closed: %w", engine.ErrUnavailable)
	}
	e.mu.Unlock()

	start := time.Now()
	samples := audio.Int16ToFloat32(pcm)

	type inference struct {
		text string
		err  error
	}
	ch := make(chan inference, 1)
	go func() {
		text, err := e.infer(samples)
		ch <- inference{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return stt.Result{}, r.err
		}
		return stt.Result{
			Text:     r.text,
			Language: e.language,
			Latency:  time.Since(start),
		}, nil
	}
}

// infer runs whisper.cpp on a fresh context and concatenates the segments.
// Contexts are not thread-safe but the model is shareable.
func (e *Engine) infer(samples []float32) (string, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %v: %w", err, engine.ErrUnavailable)
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", e.language, "error", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %v: %w", err, engine.ErrDecodeFailed)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %v: %w", err, engine.ErrDecodeFailed)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Profile estimates resources from the model variant in the file name.
func (e *Engine) Profile() engine.ResourceProfile {
	ram, ok := ramByVariant[e.variant]
	if !ok {
		ram = ramByVariant["small"]
	}
	threads := e.threads
	if threads <= 0 {
		threads = 4
	}
	return engine.ResourceProfile{EstimatedRAMMB: ram, CPUThreads: threads}
}

// Close releases the whisper model. Calling Close more than once is safe.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// variantFromPath recognises the ggml model family from file names like
// "ggml-base.en.bin" or "ggml-large-v3-turbo.bin". Only the base name is
// inspected so directory names cannot mislead it.
func variantFromPath(path string) string {
	name := strings.ToLower(filepath.Base(path))
	for _, variant := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(name, variant) {
			return variant
		}
	}
	return ""
}
