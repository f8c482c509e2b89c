// Package wsstream implements the tts.Engine interface against a local
// streaming synthesis server speaking JSON over WebSocket.
//
// The protocol is one connection per utterance: the engine dials the
// server, sends a single synthesis request, and receives a sequence of
// JSON frames each carrying a base64-encoded PCM chunk. A frame with
// final set to true ends the stream. Chunks are assembled into one
// [tts.Clip] — the runtime consumes whole clips, but the chunked wire
// format lets the server start sending audio before synthesis finishes.
package wsstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	synthesizePath = "/synthesize/stream"

	defaultRate    = 22050
	defaultTimeout = 10 * time.Second
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithVoice sets the default voice identifier sent with every request.
func WithVoice(voice string) Option {
	return func(e *Engine) {
		e.voice = voice
	}
}

// WithSampleRate declares the PCM rate the server emits. Defaults to
// 22050 Hz; frames carry no rate of their own.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		e.rate = rate
	}
}

// WithTimeout bounds one full synthesis exchange when the caller's context
// has no deadline of its own. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// Engine is the WebSocket streaming TTS engine. Safe for concurrent use;
// each Synthesize call opens its own connection.
type Engine struct {
	serverURL string
	voice     string
	rate      int
	timeout   time.Duration
}

// New creates an Engine targeting the streaming server at serverURL
// (e.g. "ws://localhost:5051").
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("wsstream: serverURL must not be empty")
	}
	e := &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		rate:      defaultRate,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// synthesizeRequest is the JSON message opening a synthesis exchange.
type synthesizeRequest struct {
	Text      string  `json:"text"`
	Emotion   string  `json:"emotion,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	Voice     string  `json:"voice,omitempty"`
}

// audioFrame is one JSON message received from the server.
type audioFrame struct {
	Audio string `json:"audio"` // base64-encoded little-endian int16 PCM
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

// Synthesize dials the server, sends the request, and assembles the
// streamed chunks into one clip. Dial failures wrap
// [engine.ErrUnavailable].
func (e *Engine) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Clip, error) {
	if text == "" {
		return tts.Clip{}, errors.New("wsstream: text must not be empty")
	}
	if opts.Intensity != 0 {
		if err := tts.CheckIntensity(opts.Intensity); err != nil {
			return tts.Clip{}, err
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	conn, _, err := websocket.Dial(ctx, e.serverURL+synthesizePath, nil)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("wsstream: dial: %w: %v", engine.ErrUnavailable, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	voice := opts.Voice
	if voice == "" {
		voice = e.voice
	}
	reqBytes, err := json.Marshal(synthesizeRequest{
		Text:      text,
		Emotion:   opts.Emotion,
		Intensity: opts.Intensity,
		Voice:     voice,
	})
	if err != nil {
		return tts.Clip{}, fmt.Errorf("wsstream: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, reqBytes); err != nil {
		return tts.Clip{}, fmt.Errorf("wsstream: send request: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return tts.Clip{}, fmt.Errorf("wsstream: read: %w", ctx.Err())
			}
			return tts.Clip{}, fmt.Errorf("wsstream: read: %w", err)
		}

		var frame audioFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			return tts.Clip{}, fmt.Errorf("wsstream: decode frame: %w", err)
		}
		if frame.Error != "" {
			return tts.Clip{}, fmt.Errorf("wsstream: server error: %s", frame.Error)
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return tts.Clip{}, fmt.Errorf("wsstream: decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if frame.Final {
			break
		}
	}

	return tts.Clip{PCM: pcm, SampleRate: e.rate}, nil
}

// SampleRate reports the declared server output rate.
func (e *Engine) SampleRate() int { return e.rate }

// Profile reports the wrapper's own (tiny) footprint; the synthesis model
// lives in the external server process.
func (e *Engine) Profile() engine.ResourceProfile {
	return engine.ResourceProfile{EstimatedRAMMB: 16, CPUThreads: 1}
}

// Close is a no-op; connections are per-call.
func (e *Engine) Close() error { return nil }
