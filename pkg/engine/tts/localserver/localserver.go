// Package localserver implements the tts.Engine interface against a local
// HTTP synthesis server (an emotion-capable TTS model behind a small REST
// wrapper, typically on localhost).
//
// Synthesis is one POST /synthesize per reply with a JSON body carrying
// the text and the emotional rendering hints. The server answers with a
// RIFF/WAVE file; the engine strips the container, keeps the raw PCM, and
// optionally resamples to a configured output rate.
package localserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	synthesizeEndpoint = "/synthesize"
	healthEndpoint     = "/health"

	defaultTimeout = 10 * time.Second
	defaultRate    = 22050
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.client.Timeout = d
	}
}

// WithVoice sets the default voice identifier sent with every request.
func WithVoice(voice string) Option {
	return func(e *Engine) {
		e.voice = voice
	}
}

// WithOutputRate resamples synthesised PCM to rate Hz. Zero (the default)
// keeps the server's native rate.
func WithOutputRate(rate int) Option {
	return func(e *Engine) {
		e.outputRate = rate
	}
}

// Engine is the local-HTTP-server TTS engine. Safe for concurrent use;
// parallel Synthesize calls map to parallel HTTP requests.
type Engine struct {
	serverURL  string
	voice      string
	outputRate int
	client     *http.Client
}

// New creates an Engine targeting the synthesis server at serverURL
// (e.g. "http://localhost:5050").
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("localserver: serverURL must not be empty")
	}
	e := &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// synthesizeRequest is the JSON body sent to POST /synthesize.
type synthesizeRequest struct {
	Text      string  `json:"text"`
	Emotion   string  `json:"emotion,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
	Voice     string  `json:"voice,omitempty"`
}

// Synthesize performs one POST /synthesize call and returns the PCM with
// the WAV container stripped. Connection failures and non-200 responses
// wrap [engine.ErrUnavailable].
func (e *Engine) Synthesize(ctx context.Context, text string, opts tts.Options) (tts.Clip, error) {
	if text == "" {
		return tts.Clip{}, errors.New("localserver: text must not be empty")
	}
	if opts.Intensity != 0 {
		if err := tts.CheckIntensity(opts.Intensity); err != nil {
			return tts.Clip{}, err
		}
	}

	voice := opts.Voice
	if voice == "" {
		voice = e.voice
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:      text,
		Emotion:   opts.Emotion,
		Intensity: opts.Intensity,
		Voice:     voice,
	})
	if err != nil {
		return tts.Clip{}, fmt.Errorf("localserver: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+synthesizeEndpoint, bytes.NewReader(body))
	if err != nil {
		return tts.Clip{}, fmt.Errorf("localserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.client.Do(req)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("localserver: POST %s: %w: %v", synthesizeEndpoint, engine.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Clip{}, fmt.Errorf("localserver: POST %s returned status %d: %w", synthesizeEndpoint, resp.StatusCode, engine.ErrUnavailable)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("localserver: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return tts.Clip{}, err
	}

	pcm := wav[info.DataOffset:]
	rate := info.SampleRate
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if e.outputRate > 0 && rate != e.outputRate {
		pcm = audio.ResampleMono16(pcm, rate, e.outputRate)
		rate = e.outputRate
	}
	return tts.Clip{PCM: pcm, SampleRate: rate}, nil
}

// SampleRate reports the configured output rate, or the server's usual
// native rate when no resampling is configured.
func (e *Engine) SampleRate() int {
	if e.outputRate > 0 {
		return e.outputRate
	}
	return defaultRate
}

// Ready probes GET /health. Used by readiness checks.
func (e *Engine) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("localserver: create health request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("localserver: GET %s: %w: %v", healthEndpoint, engine.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("localserver: GET %s returned status %d: %w", healthEndpoint, resp.StatusCode, engine.ErrUnavailable)
	}
	return nil
}

// Profile reports the wrapper's own (tiny) footprint; the synthesis model
// lives in the external server process.
func (e *Engine) Profile() engine.ResourceProfile {
	return engine.ResourceProfile{EstimatedRAMMB: 16, CPUThreads: 1}
}

// Close releases idle HTTP connections.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data
// offset and audio format from the "fmt " sub-chunk. Walking the chunks is
// more robust than a fixed 44-byte offset because the fmt chunk size may
// vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("localserver: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("localserver: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("localserver: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				info.SampleRate = defaultRate
				info.Channels = 1
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("localserver: WAV response missing data chunk")
}
