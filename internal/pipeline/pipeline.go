// Package pipeline implements the voice interaction pipeline: captured
// audio frames flow through voice activity detection, wake-word spotting
// and utterance recording into speech-to-text, with every observable step
// published on the event bus.
//
// # Architecture
//
// One producer pushes frames into a bounded queue; one consumer goroutine
// drains it, runs VAD inline and owns the state machine exclusively. STT
// runs on its own worker so a long transcription never stalls frame
// ingestion; results re-enter the consumer as messages. Timing (wake
// timeout, silence detection, minimum speech) is accounted in frame
// durations, so behaviour is deterministic for a given frame sequence.
//
// A ring buffer retains the trailing seconds of audio. Recordings seed
// from its tail so speech onset before VAD fires is not clipped, and
// wake-word checks read their window from it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kagami-sh/kagami/internal/bus"
	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Config holds the pipeline's tuning parameters. The zero value is filled
// with the defaults below.
type Config struct {
	// UserID and ModelID identify the interaction this pipeline feeds;
	// they are stamped onto transcripts.
	UserID  string
	ModelID string

	// WakeTimeout returns to LISTENING when no speech follows a wake word.
	WakeTimeout time.Duration

	// SilenceTimeout ends a recording after this much trailing silence.
	SilenceTimeout time.Duration

	// MinSpeech discards recordings with less voiced audio than this.
	MinSpeech time.Duration

	// PrefixPadding is how much ring-buffered audio seeds a recording so
	// the utterance onset is not clipped.
	PrefixPadding time.Duration

	// WakeWindow is the trailing audio span handed to the wake detector;
	// WakeStep is how much new audio must accumulate between checks.
	WakeWindow time.Duration
	WakeStep   time.Duration

	// QueueCapacity is the frame queue depth expressed as audio time.
	QueueCapacity time.Duration

	// RingCapacity is how much trailing audio the ring retains.
	RingCapacity time.Duration

	// STTTimeout bounds one transcription call.
	STTTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.WakeTimeout <= 0 {
		c.WakeTimeout = 10 * time.Second
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 1500 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 500 * time.Millisecond
	}
	if c.PrefixPadding <= 0 {
		c.PrefixPadding = 300 * time.Millisecond
	}
	if c.WakeWindow <= 0 {
		c.WakeWindow = wake.DefaultWindow
	}
	if c.WakeStep <= 0 {
		c.WakeStep = 500 * time.Millisecond
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10 * time.Second
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 10 * time.Second
	}
	if c.STTTimeout <= 0 {
		c.STTTimeout = 12 * time.Second
	}
}

// sttResult carries a finished transcription back into the consumer.
type sttResult struct {
	res stt.Result
	err error
}

// noPending marks the tunable atomics as having no update queued.
const noPending = math.MaxUint64

// Pipeline is the single-key voice pipeline. Construct with New, feed
// with Push, stop with Stop. Safe for one producer and any number of
// observers.
type Pipeline struct {
	cfg  Config
	log  *slog.Logger
	bus  *bus.Bus
	vad  vad.Engine
	wake wake.Detector // nil enables direct-listen mode
	stt  stt.Engine

	// onEngineErr, when set, observes every engine failure. The dual
	// supervisor uses it to latch fallback.
	onEngineErr func(error)

	frames chan audio.Frame
	drops  atomic.Int64

	pendingAggr atomic.Uint64 // queued aggressiveness, noPending when none
	pendingSens atomic.Uint64 // queued sensitivity bits, noPending when none

	published atomic.Int32 // State mirror for observers

	// Consumer-owned; never touched outside the consumer goroutine.
	state          State
	norm           audio.Normalizer
	ring           *audio.Ring
	recording      []byte
	voiced         time.Duration
	silence        time.Duration
	wakeElapsed    time.Duration
	sinceWakeCheck time.Duration

	sttJobs    chan []byte
	sttResults chan sttResult

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithEngineErrorHook registers a callback invoked for every engine
// failure, in addition to the error event on the bus.
func WithEngineErrorHook(fn func(error)) Option {
	return func(p *Pipeline) { p.onEngineErr = fn }
}

// New creates a Pipeline. A nil wake detector puts the pipeline in
// direct-listen mode: speech alone starts a recording.
func New(cfg Config, vadEngine vad.Engine, wakeDetector wake.Detector, sttEngine stt.Engine, b *bus.Bus, opts ...Option) (*Pipeline, error) {
	if vadEngine == nil || sttEngine == nil || b == nil {
		return nil, fmt.Errorf("pipeline: vad engine, stt engine and bus are required")
	}
	cfg.fillDefaults()

	queueFrames := int(cfg.QueueCapacity / audio.DefaultFrameDuration)
	if queueFrames < 1 {
		queueFrames = 1
	}

	p := &Pipeline{
		cfg:        cfg,
		log:        slog.Default(),
		bus:        b,
		vad:        vadEngine,
		wake:       wakeDetector,
		stt:        sttEngine,
		frames:     make(chan audio.Frame, queueFrames),
		ring:       audio.NewRing(audio.SampleRate, cfg.RingCapacity),
		sttJobs:    make(chan []byte, 1),
		sttResults: make(chan sttResult, 1),
		state:      StateIdle,
	}
	p.pendingAggr.Store(noPending)
	p.pendingSens.Store(noPending)
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start launches the consumer and STT worker and begins listening.
// Calling Start more than once is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(ctx)
		p.wg.Add(2)
		go p.sttWorker()
		go p.consumerLoop()
	})
}

// Push offers one captured frame to the pipeline. It never blocks: when
// the queue is full the frame is dropped and counted.
func (p *Pipeline) Push(f audio.Frame) {
	select {
	case p.frames <- f:
	default:
		p.drops.Add(1)
	}
}

// Drops returns the number of frames lost to queue overflow.
func (p *Pipeline) Drops() int64 { return p.drops.Load() }

// State returns the last published pipeline state.
func (p *Pipeline) State() State { return State(p.published.Load()) }

// SetAggressiveness queues a VAD aggressiveness change; it takes effect
// at the next frame boundary.
func (p *Pipeline) SetAggressiveness(level int) error {
	if err := vad.CheckAggressiveness(level); err != nil {
		return err
	}
	p.pendingAggr.Store(uint64(level))
	return nil
}

// SetWakeSensitivity queues a wake-word sensitivity change; it takes
// effect at the next frame boundary.
func (p *Pipeline) SetWakeSensitivity(s float64) error {
	if err := wake.CheckSensitivity(s); err != nil {
		return err
	}
	p.pendingSens.Store(math.Float64bits(s))
	return nil
}

// Stop drains the pipeline, aborts any in-flight transcription and
// reaches IDLE. It returns an error when shutdown exceeds the bounded
// window.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	if p.cancel == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("pipeline: shutdown exceeded 2s")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// consumer
// ─────────────────────────────────────────────────────────────────────────────

func (p *Pipeline) consumerLoop() {
	defer p.wg.Done()

	p.transition(StateListening)

	for {
		select {
		case <-p.ctx.Done():
			p.transition(StateIdle)
			return
		case f := <-p.frames:
			p.consume(f)
		case r := <-p.sttResults:
			p.handleTranscript(r)
		}
	}
}

// consume processes one frame. Runs only on the consumer goroutine.
func (p *Pipeline) consume(f audio.Frame) {
	p.applyTunables()

	f = p.norm.Normalize(f)
	if len(f.Data) == 0 {
		return
	}

	p.ring.Write(f.Data)
	dur := f.Duration()

	speech, err := p.vad.IsSpeech(f.Data)
	if err != nil {
		p.engineError(err)
		return
	}

	switch p.state {
	case StateListening:
		if p.wake == nil {
			// Direct-listen mode: speech alone starts recording.
			if speech {
				p.startRecording(dur)
			}
			return
		}
		p.sinceWakeCheck += dur
		if p.sinceWakeCheck < p.cfg.WakeStep {
			return
		}
		p.sinceWakeCheck = 0
		word, ok, err := p.wake.Detect(p.ctx, p.ring.Tail(p.cfg.WakeWindow))
		if err != nil {
			p.engineError(err)
			return
		}
		if ok {
			p.bus.Publish(bus.Event{Type: bus.TypeWakeWordDetected, Payload: bus.WakeWord{Word: word}})
			p.wakeElapsed = 0
			p.transition(StateWakeDetected)
		}

	case StateWakeDetected:
		if speech {
			p.startRecording(dur)
			return
		}
		p.wakeElapsed += dur
		if p.wakeElapsed > p.cfg.WakeTimeout {
			p.transition(StateListening)
		}

	case StateRecording:
		p.recording = append(p.recording, f.Data...)
		if speech {
			p.voiced += dur
			p.silence = 0
		} else {
			p.silence += dur
		}
		if p.silence >= p.cfg.SilenceTimeout {
			p.finishRecording()
		}

	default:
		// PROCESSING keeps the ring warm but takes no action per frame.
	}
}

// startRecording enters RECORDING, seeding the buffer from the ring tail
// so the onset of speech (including the current frame) is retained.
func (p *Pipeline) startRecording(frameDur time.Duration) {
	p.bus.Publish(bus.Event{Type: bus.TypeSpeechStarted})
	p.recording = append([]byte(nil), p.ring.Tail(p.cfg.PrefixPadding)...)
	p.voiced = frameDur
	p.silence = 0
	p.transition(StateRecording)
}

// finishRecording ends the utterance: long enough recordings move to the
// STT worker, short ones are discarded.
func (p *Pipeline) finishRecording() {
	utterance := p.recording
	p.recording = nil

	if p.voiced < p.cfg.MinSpeech {
		p.log.Debug("discarding short utterance",
			"voiced", p.voiced, "min", p.cfg.MinSpeech)
		p.transition(StateListening)
		return
	}

	p.bus.Publish(bus.Event{Type: bus.TypeSpeechEnded, Payload: bus.SpeechEnded{Bytes: len(utterance)}})
	p.transition(StateProcessing)

	// Hand off by move; the consumer keeps no reference.
	select {
	case p.sttJobs <- utterance:
	default:
		p.publishError("overload", "stt worker busy, utterance dropped")
		p.transition(StateListening)
	}
}

// handleTranscript processes one STT outcome on the consumer goroutine.
func (p *Pipeline) handleTranscript(r sttResult) {
	if r.err != nil {
		p.engineError(r.err)
		return
	}
	if r.res.Text == "" {
		p.log.Debug("empty transcript discarded")
		p.transition(StateListening)
		return
	}
	p.bus.Publish(bus.Event{Type: bus.TypeTranscriptReady, Payload: bus.Transcript{
		UserID:     p.cfg.UserID,
		ModelID:    p.cfg.ModelID,
		Text:       r.res.Text,
		Confidence: r.res.Confidence,
		Language:   r.res.Language,
		Latency:    r.res.Latency,
	}})
	p.transition(StateListening)
}

// applyTunables applies queued sensitivity and aggressiveness changes at
// the frame boundary.
func (p *Pipeline) applyTunables() {
	if v := p.pendingAggr.Swap(noPending); v != noPending {
		if err := p.vad.SetAggressiveness(int(v)); err != nil {
			p.log.Warn("applying vad aggressiveness failed", "error", err)
		}
	}
	if v := p.pendingSens.Swap(noPending); v != noPending && p.wake != nil {
		if err := p.wake.SetSensitivity(math.Float64frombits(v)); err != nil {
			p.log.Warn("applying wake sensitivity failed", "error", err)
		}
	}
}

// engineError reports an engine failure and recovers: ERROR is entered,
// the in-flight recording is abandoned, and the pipeline resumes
// listening.
func (p *Pipeline) engineError(err error) {
	p.publishError(errorKind(err), err.Error())
	if p.onEngineErr != nil {
		p.onEngineErr(err)
	}
	p.transition(StateError)

	p.recording = nil
	p.voiced = 0
	p.silence = 0
	p.vad.Reset()
	p.transition(StateListening)
}

func (p *Pipeline) publishError(kind, msg string) {
	p.bus.Publish(bus.Event{Type: bus.TypeError, Payload: bus.Error{Kind: kind, Message: msg}})
}

// errorKind classifies an engine failure for the error event.
func errorKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		return "engine_unavailable"
	case errors.Is(err, engine.ErrDecodeFailed):
		return "decode_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// transition moves the state machine and publishes the change. Illegal
// edges are dropped with a log line; the machine stays put.
func (p *Pipeline) transition(to State) {
	if p.state == to {
		return
	}
	if !canTransition(p.state, to) {
		p.log.Warn("illegal state transition dropped", "from", p.state, "to", to)
		return
	}
	old := p.state
	p.state = to
	p.published.Store(int32(to))
	p.bus.Publish(bus.Event{Type: bus.TypeStateChanged, Payload: bus.StateChanged{
		Old: old.String(),
		New: to.String(),
	}})
}

// ─────────────────────────────────────────────────────────────────────────────
// stt worker
// ─────────────────────────────────────────────────────────────────────────────

func (p *Pipeline) sttWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case utterance := <-p.sttJobs:
			ctx, cancel := context.WithTimeout(p.ctx, p.cfg.STTTimeout)
			res, err := p.stt.Transcribe(ctx, utterance)
			cancel()
			select {
			case p.sttResults <- sttResult{res: res, err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}
