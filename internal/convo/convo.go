// Package convo implements the conversation core: it turns finished
// transcripts into persona-shaped replies.
//
// Each turn loads the interaction key's context (recent messages,
// personality, memories, bonding, avatar state) in one batched read,
// consults the response cache, and only then calls the LLM. Turns are
// serialized per key and run in parallel across keys.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kagami-sh/kagami/internal/bus"
	"github.com/kagami-sh/kagami/internal/observe"
	"github.com/kagami-sh/kagami/internal/store"
	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

// Apology is delivered when the LLM (or its whole fallback chain) fails.
const Apology = "I'm sorry, I'm having trouble thinking right now. Please try again later."

// Response sources reported in metrics and on [Reply].
const (
	SourceLLM      = "llm"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// Default turn parameters.
const (
	DefaultHistoryDepth  = 10
	DefaultMemoryDepth   = 5
	DefaultExchangeDepth = 5
	DefaultMaxTokens     = 256
	DefaultCacheTTL      = 24 * time.Hour
	DefaultLLMTimeout    = 30 * time.Second
	xpPerTurn            = 5
)

// stopSequences end every generation so the model cannot speak for the
// user or run past one reply.
var stopSequences = []string{"Human:", "Assistant:", "\n\n"}

// Config tunes the conversation core. Zero fields take defaults.
type Config struct {
	// HistoryDepth is how many recent messages are loaded per turn.
	HistoryDepth int

	// MemoryDepth is how many top memories are injected into the prompt.
	MemoryDepth int

	// ExchangeDepth is how many past exchanges the transcript section
	// renders and the fingerprint covers.
	ExchangeDepth int

	// MaxTokens caps each completion.
	MaxTokens int

	// Temperature is passed through to the engine.
	Temperature float64

	// CacheTTL is the response cache lifetime.
	CacheTTL time.Duration

	// LLMTimeout bounds one generation call.
	LLMTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = DefaultHistoryDepth
	}
	if c.MemoryDepth <= 0 {
		c.MemoryDepth = DefaultMemoryDepth
	}
	if c.ExchangeDepth <= 0 {
		c.ExchangeDepth = DefaultExchangeDepth
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text    string
	Emotion string

	// Source is "llm", "cache", or "fallback" (canned apology).
	Source string
}

// turnContext is one batched snapshot of everything the prompt needs.
type turnContext struct {
	messages    []store.Message
	personality map[string]float64
	memories    []store.Memory
	bonding     store.Bonding
	avatar      store.AvatarState
}

// Processor is the conversation core. It consumes transcript_ready
// events and emits response_ready.
type Processor struct {
	cfg     Config
	log     *slog.Logger
	store   *store.Store
	engine  llm.Engine
	bus     *bus.Bus
	metrics *observe.Metrics

	mu    sync.Mutex
	turns map[store.Key]*sync.Mutex
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// WithMetrics enables metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New builds a Processor over the given store, engine, and bus.
func New(cfg Config, st *store.Store, engine llm.Engine, b *bus.Bus, opts ...Option) (*Processor, error) {
	if st == nil || engine == nil || b == nil {
		return nil, errors.New("convo: store, engine, and bus are required")
	}
	cfg.fillDefaults()
	p := &Processor{
		cfg:    cfg,
		log:    slog.Default(),
		store:  st,
		engine: engine,
		bus:    b,
		turns:  make(map[store.Key]*sync.Mutex),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run consumes transcript_ready events until ctx is cancelled. Each
// transcript is handled on its own goroutine; the per-key lock inside
// ProcessTurn keeps turns for one key strictly ordered.
func (p *Processor) Run(ctx context.Context) error {
	sub := p.bus.Subscribe(bus.TypeTranscriptReady)
	defer sub.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			tr, ok := ev.Payload.(bus.Transcript)
			if !ok || tr.Text == "" {
				continue
			}
			key := store.Key{UserID: tr.UserID, ModelID: tr.ModelID}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := p.ProcessTurn(ctx, key, tr.Text); err != nil {
					p.log.Error("conversation turn failed",
						"key", key.String(), "error", err)
				}
			}()
		}
	}
}

// keyLock returns the mutex serializing turns for one key.
func (p *Processor) keyLock(key store.Key) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.turns[key]
	if !ok {
		m = &sync.Mutex{}
		p.turns[key] = m
	}
	return m
}

// ProcessTurn runs one full conversation turn for the key and returns
// the reply. The reply is also published as a response_ready event.
func (p *Processor) ProcessTurn(ctx context.Context, key store.Key, input string) (Reply, error) {
	if err := key.Validate(); err != nil {
		return Reply{}, err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, errors.New("convo: empty input")
	}

	lock := p.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := observe.StartSpan(ctx, "convo.turn")
	defer span.End()
	start := time.Now()

	tc, err := p.loadContext(key)
	if err != nil {
		return Reply{}, fmt.Errorf("convo: load context: %w", err)
	}

	persona := renderPersona(key.ModelID, tc, p.cfg.MemoryDepth)
	fp := fingerprint(persona, tail(tc.messages, p.cfg.ExchangeDepth), input)

	// Cache lookup. Read errors count as a miss.
	if cached, err := p.store.CachedResponse(fp, key.ModelID); err == nil {
		p.recordCacheLookup(ctx, true)
		reply := p.finishTurn(ctx, key, input, cached, tc, SourceCache, start)
		return reply, nil
	}
	p.recordCacheLookup(ctx, false)

	prompt := persona + "\n\n" + renderTranscript(tail(tc.messages, p.cfg.ExchangeDepth), input)

	text, err := p.generate(ctx, key, prompt)
	if err != nil {
		p.log.Warn("llm generation failed", "key", key.String(), "error", err)
		p.recordEngineError(ctx, "llm", "generate")
		p.bus.Publish(bus.Event{Type: bus.TypeError, Payload: bus.Error{
			Kind:    "llm",
			Message: err.Error(),
		}})
		reply := Reply{Text: Apology, Emotion: "apologetic", Source: SourceFallback}
		p.emit(key, reply)
		p.recordTurn(ctx, key.ModelID, SourceFallback, start)
		return reply, nil
	}

	text = postProcess(text)
	if text == "" {
		text = Apology
	} else if err := p.store.CacheResponse(fp, key.ModelID, text, p.cfg.CacheTTL); err != nil {
		p.log.Warn("caching response failed", "key", key.String(), "error", err)
	}

	reply := p.finishTurn(ctx, key, input, text, tc, SourceLLM, start)
	return reply, nil
}

// loadContext performs the turn's single batched context read.
func (p *Processor) loadContext(key store.Key) (turnContext, error) {
	var tc turnContext
	var g errgroup.Group
	g.Go(func() (err error) {
		tc.messages, err = p.store.RecentMessages(key, p.cfg.HistoryDepth)
		return err
	})
	g.Go(func() (err error) {
		tc.personality, err = p.store.Personality(key)
		return err
	})
	g.Go(func() (err error) {
		tc.memories, err = p.store.TopMemories(key, p.cfg.MemoryDepth)
		return err
	})
	g.Go(func() (err error) {
		tc.bonding, err = p.store.Bonding(key)
		return err
	})
	g.Go(func() (err error) {
		tc.avatar, err = p.store.AvatarState(key)
		return err
	})
	if err := g.Wait(); err != nil {
		return turnContext{}, err
	}
	return tc, nil
}

// generate runs one bounded LLM call, streaming when the engine
// supports it.
func (p *Processor) generate(ctx context.Context, key store.Key, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	opts := llm.Options{
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Stop:        stopSequences,
	}

	llmStart := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
		}
	}()

	if !p.engine.Capabilities().SupportsStreaming {
		return p.engine.Generate(ctx, prompt, opts)
	}

	ch, err := p.engine.Stream(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	scanner := llm.NewStopScanner(stopSequences)
	failed := ""
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			failed = chunk.Text
			continue
		}
		emitText, stopped := scanner.Feed(chunk.Text)
		p.forwardToken(key, &sb, emitText)
		if stopped {
			// Drain so the engine can close the channel.
			for range ch {
			}
			break
		}
	}
	p.forwardToken(key, &sb, scanner.Flush())

	if sb.Len() == 0 && failed != "" {
		return "", fmt.Errorf("convo: stream failed: %s", failed)
	}
	return sb.String(), ctx.Err()
}

// forwardToken accumulates one streamed fragment and mirrors it onto
// the bus.
func (p *Processor) forwardToken(key store.Key, sb *strings.Builder, text string) {
	if text == "" {
		return
	}
	sb.WriteString(text)
	p.bus.Publish(bus.Event{Type: bus.TypeResponseToken, Payload: bus.Token{
		UserID:  key.UserID,
		ModelID: key.ModelID,
		Text:    text,
	}})
}

// finishTurn persists the exchange, applies relationship and avatar
// reactions, and emits response_ready. Used for both LLM and cache
// sourced replies; only the cache write differs between them.
func (p *Processor) finishTurn(ctx context.Context, key store.Key, input, text string, tc turnContext, source string, start time.Time) Reply {
	sent := sentiment(input)
	emotion := deriveEmotion(tc.avatar, sent)

	if _, err := p.store.AppendMessage(key, store.RoleUser, input, "", 0); err != nil {
		p.log.Warn("storing user message failed", "key", key.String(), "error", err)
	}
	if _, err := p.store.AppendMessage(key, store.RoleAssistant, text, emotion, time.Since(start)); err != nil {
		p.log.Warn("storing assistant message failed", "key", key.String(), "error", err)
	}

	if _, err := p.store.GrantExperience(key, xpPerTurn); err != nil {
		p.log.Warn("granting experience failed", "key", key.String(), "error", err)
	}

	for _, cue := range memoryCues(input) {
		if _, err := p.store.AddMemory(key, cue.Type, cue.Content, cue.Hint); err != nil {
			p.log.Warn("storing memory failed", "key", key.String(), "error", err)
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordMemoryWrite(ctx, string(cue.Type))
		}
	}

	if st, changed := adjustAvatar(tc.avatar, sent); changed {
		if err := p.store.UpdateAvatarState(key, st); err != nil {
			p.log.Warn("updating avatar state failed", "key", key.String(), "error", err)
		}
	}

	reply := Reply{Text: text, Emotion: emotion, Source: source}
	p.emit(key, reply)
	p.recordTurn(ctx, key.ModelID, source, start)
	return reply
}

// emit publishes the reply as response_ready.
func (p *Processor) emit(key store.Key, reply Reply) {
	p.bus.Publish(bus.Event{Type: bus.TypeResponseReady, Payload: bus.Response{
		UserID:  key.UserID,
		ModelID: key.ModelID,
		Text:    reply.Text,
		Emotion: reply.Emotion,
	}})
}

func (p *Processor) recordTurn(ctx context.Context, modelID, source string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordTurn(ctx, modelID, source)
	p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

func (p *Processor) recordCacheLookup(ctx context.Context, hit bool) {
	if p.metrics != nil {
		p.metrics.RecordCacheLookup(ctx, hit)
	}
}

func (p *Processor) recordEngineError(ctx context.Context, engine, kind string) {
	if p.metrics != nil {
		p.metrics.RecordEngineError(ctx, engine, kind)
	}
}

// tail returns up to 2n trailing messages (n exchanges).
func tail(msgs []store.Message, n int) []store.Message {
	if len(msgs) <= 2*n {
		return msgs
	}
	return msgs[len(msgs)-2*n:]
}
