// Package anyllm implements [llm.Engine] on github.com/mozilla-ai/any-llm-go,
// a unified multi-provider interface covering Ollama, llama.cpp, llamafile,
// OpenAI, Anthropic, Gemini, DeepSeek, Mistral and Groq.
//
// any-llm-go does not expose stop sequences, so this engine applies them
// client-side: Generate truncates the completion and Stream cuts the
// channel the moment a stop sequence completes.
//
// Usage:
//
//	e, err := anyllm.New("ollama", "qwen2.5:3b")
//	e, err := anyllm.NewLlamaCpp("local", anyllmlib.WithBaseURL("http://127.0.0.1:8080/v1"))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

// Compile-time assertion that Engine satisfies llm.Engine.
var _ llm.Engine = (*Engine)(nil)

// Engine generates text through an any-llm-go backend.
type Engine struct {
	backend anyllmlib.Provider
	model   string
}

// New creates an Engine for the given backend name, one of: "openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
// "llamacpp", "llamafile".
//
// opts are any-llm-go options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without a key option the backend falls back to
// its environment variable (OPENAI_API_KEY and friends); the local
// backends need no key at all.
func New(backendName, model string, opts ...anyllmlib.Option) (*Engine, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Engine{backend: backend, model: model}, nil
}

// NewOllama creates an Engine backed by Ollama. Without options it
// connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Engine, error) {
	return New("ollama", model, opts...)
}

// NewLlamaCpp creates an Engine backed by a running llama.cpp server.
// Without options it connects to http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Engine, error) {
	return New("llamacpp", model, opts...)
}

// NewLlamaFile creates an Engine backed by a running llamafile server.
func NewLlamaFile(model string, opts ...anyllmlib.Option) (*Engine, error) {
	return New("llamafile", model, opts...)
}

// createBackend maps a backend name to its any-llm-go constructor.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// Generate implements llm.Engine.
func (e *Engine) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	resp, err := e.backend.Completion(ctx, e.buildParams(prompt, opts))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("anyllm: completion: %v: %w", err, engine.ErrUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response: %w", engine.ErrUnavailable)
	}
	return llm.TruncateAtStop(resp.Choices[0].Message.ContentString(), opts.Stop), nil
}

// Stream implements llm.Engine.
func (e *Engine) Stream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := e.backend.CompletionStream(ctx, e.buildParams(prompt, opts))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		scanner := llm.NewStopScanner(opts.Stop)
		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			emit, stopped := scanner.Feed(choice.Delta.Content)
			if stopped {
				if emit != "" {
					if !send(llm.Chunk{Text: emit}) {
						return
					}
				}
				send(llm.Chunk{FinishReason: "stop"})
				// Unblock the producer; the rest is discarded.
				go func() {
					for range backendChunks {
					}
					<-backendErrs
				}()
				return
			}

			if choice.FinishReason != "" {
				// Natural end: release held text before the finish marker.
				emit += scanner.Flush()
				if !send(llm.Chunk{Text: emit, FinishReason: choice.FinishReason}) {
					return
				}
				continue
			}
			if emit != "" {
				if !send(llm.Chunk{Text: emit}) {
					return
				}
			}
		}

		if err := <-backendErrs; err != nil {
			send(llm.Chunk{FinishReason: "error", Text: err.Error()})
			return
		}
		// Some backends close without a finish marker; release held text.
		if tail := scanner.Flush(); tail != "" {
			send(llm.Chunk{Text: tail})
		}
	}()

	return ch, nil
}

// Capabilities implements llm.Engine. any-llm-go exposes no model
// metadata, so conservative defaults are reported.
func (e *Engine) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		SupportsStreaming: true,
		ContextWindow:     8192,
		MaxOutputTokens:   4096,
	}
}

// Close implements llm.Engine.
func (e *Engine) Close() error { return nil }

// buildParams converts prompt and options into any-llm-go params.
func (e *Engine) buildParams(prompt string, opts llm.Options) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: e.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		params.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		mt := opts.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
