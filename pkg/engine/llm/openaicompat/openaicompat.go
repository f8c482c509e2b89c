// Package openaicompat implements [llm.Engine] against any server speaking
// the OpenAI chat-completions protocol. The primary targets are local
// llama.cpp and llamafile servers via their /v1 endpoints; the hosted
// OpenAI API works the same way with a real key.
package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

// Compile-time assertion that Engine satisfies llm.Engine.
var _ llm.Engine = (*Engine)(nil)

const (
	defaultContextWindow   = 8192
	defaultMaxOutputTokens = 4096
)

// config holds optional configuration for the engine.
type config struct {
	baseURL       string
	apiKey        string
	timeout       time.Duration
	contextWindow int
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL points the client at a compatible server, e.g.
// "http://127.0.0.1:8080/v1" for llama.cpp. Empty uses the OpenAI API.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithAPIKey sets the bearer token. Local servers ignore it; the hosted
// API requires it.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithTimeout sets a per-request HTTP timeout. This is a transport-level
// backstop; the runtime's per-call deadline rides on ctx.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithContextWindow overrides the reported context window for models the
// server does not describe. Default 8192.
func WithContextWindow(tokens int) Option {
	return func(c *config) { c.contextWindow = tokens }
}

// Engine generates text through the OpenAI chat-completions protocol.
type Engine struct {
	client        oai.Client
	model         string
	contextWindow int
}

// New constructs an Engine for the given model name. For llama.cpp the
// model name is whatever the server was launched with.
func New(model string, opts ...Option) (*Engine, error) {
	if model == "" {
		return nil, fmt.Errorf("openaicompat: model must not be empty")
	}

	cfg := &config{contextWindow: defaultContextWindow}
	for _, o := range opts {
		o(cfg)
	}

	var reqOpts []option.RequestOption
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Engine{
		client:        oai.NewClient(reqOpts...),
		model:         model,
		contextWindow: cfg.contextWindow,
	}, nil
}

// Generate implements llm.Engine.
func (e *Engine) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	resp, err := e.client.Chat.Completions.New(ctx, e.buildParams(prompt, opts))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("openaicompat: chat completion: %v: %w", err, engine.ErrUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openaicompat: empty choices in response: %w", engine.ErrUnavailable)
	}
	// The server already honoured opts.Stop; no client-side cut needed.
	return resp.Choices[0].Message.Content, nil
}

// Stream implements llm.Engine.
func (e *Engine) Stream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, e.buildParams(prompt, opts))
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openaicompat: start stream: %v: %w", err, engine.ErrUnavailable)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Capabilities implements llm.Engine.
func (e *Engine) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		SupportsStreaming: true,
		ContextWindow:     e.contextWindow,
		MaxOutputTokens:   defaultMaxOutputTokens,
	}
}

// Close implements llm.Engine. The underlying HTTP client needs no
// teardown.
func (e *Engine) Close() error { return nil }

// buildParams converts prompt and options into OpenAI SDK params.
func (e *Engine) buildParams(prompt string, opts llm.Options) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.TopP != 0 {
		params.TopP = param.NewOpt(opts.TopP)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	if len(opts.Stop) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}
	return params
}
