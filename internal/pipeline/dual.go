package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kagami-sh/kagami/internal/bus"
	"github.com/kagami-sh/kagami/internal/resilience"
	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	"github.com/kagami-sh/kagami/pkg/engine/vad"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Pipeline mode names used in switch events and status reporting.
const (
	ModeBasic    = "basic"
	ModeEnhanced = "enhanced"
)

// Engines bundles one pipeline's engine set. A nil Wake detector means
// the VAD subsumes wake detection (direct-listen).
type Engines struct {
	VAD  vad.Engine
	Wake wake.Detector
	STT  stt.Engine
}

// Dual supervises a basic and an enhanced pipeline. The enhanced pipeline
// (neural VAD, direct-listen) serves while healthy; on any enhanced
// engine failure the supervisor atomically routes to basic and emits
// pipeline_switched. The fallback latches — returning to enhanced
// requires a restart.
type Dual struct {
	log *slog.Logger
	bus *bus.Bus

	basic    *Pipeline
	enhanced *Pipeline // nil when no enhanced engines were configured
	breaker  *resilience.CircuitBreaker

	ctx      context.Context
	active   atomic.Pointer[Pipeline]
	mode     atomic.Int32 // 0 basic, 1 enhanced
	fallOnce sync.Once
	started  bool
}

// DualOption is a functional option for configuring a Dual.
type DualOption func(*Dual)

// WithDualLogger sets the supervisor's logger.
func WithDualLogger(log *slog.Logger) DualOption {
	return func(d *Dual) { d.log = log }
}

// NewDual builds the supervisor and both pipelines. enhanced may be the
// zero Engines value to run basic-only.
func NewDual(cfg Config, basic, enhanced Engines, b *bus.Bus, opts ...DualOption) (*Dual, error) {
	d := &Dual{
		log: slog.Default(),
		bus: b,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "enhanced-pipeline",
			MaxFailures: 1,
			// The fallback is strict: once open the breaker effectively
			// never half-opens within a process lifetime.
			ResetTimeout: 24 * time.Hour,
		}),
	}
	for _, o := range opts {
		o(d)
	}

	bp, err := New(cfg, basic.VAD, basic.Wake, basic.STT, b, WithLogger(d.log))
	if err != nil {
		return nil, fmt.Errorf("pipeline: basic: %w", err)
	}
	d.basic = bp

	if enhanced.VAD != nil {
		ep, err := New(cfg, enhanced.VAD, enhanced.Wake, enhanced.STT, b,
			WithLogger(d.log),
			WithEngineErrorHook(d.onEnhancedError),
		)
		if err != nil {
			return nil, fmt.Errorf("pipeline: enhanced: %w", err)
		}
		d.enhanced = ep
	}

	d.active.Store(d.basic)
	return d, nil
}

// Start probes the enhanced pipeline and routes to it when ready,
// otherwise to basic.
func (d *Dual) Start(ctx context.Context) {
	d.ctx = ctx
	d.started = true

	if d.enhanced == nil {
		d.basic.Start(ctx)
		return
	}

	// Readiness probe: one silent frame through the enhanced VAD. Any
	// failure latches the breaker and selects basic from the start.
	err := d.breaker.Execute(func() error {
		_, err := d.enhanced.vad.IsSpeech(make([]byte, audio.FrameBytes(audio.SampleRate, audio.DefaultFrameDuration)))
		return err
	})
	if err != nil {
		d.fallback(fmt.Sprintf("enhanced readiness probe failed: %v", err))
		return
	}

	d.mode.Store(1)
	d.active.Store(d.enhanced)
	d.enhanced.Start(ctx)
}

// onEnhancedError observes enhanced engine failures. Unavailability and
// timeouts trip the fallback; decode errors on single frames do not.
func (d *Dual) onEnhancedError(err error) {
	if !isFatalEngineErr(err) {
		return
	}
	// Latch the failure so the breaker records enhanced as down.
	_ = d.breaker.Execute(func() error { return err })
	d.fallback(err.Error())
}

func isFatalEngineErr(err error) bool {
	return errors.Is(err, engine.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// fallback switches the active pipeline to basic exactly once. The
// enhanced pipeline is stopped in the background; its in-flight utterance
// is dropped, never half-delivered.
func (d *Dual) fallback(reason string) {
	d.fallOnce.Do(func() {
		d.log.Warn("switching to basic pipeline", "reason", reason)

		d.mode.Store(0)
		d.active.Store(d.basic)
		d.basic.Start(d.ctx)

		if d.enhanced != nil {
			go func() {
				if err := d.enhanced.Stop(); err != nil {
					d.log.Warn("stopping enhanced pipeline", "error", err)
				}
			}()
		}

		d.bus.Publish(bus.Event{Type: bus.TypePipelineSwitched, Payload: bus.PipelineSwitched{
			From:   ModeEnhanced,
			To:     ModeBasic,
			Reason: reason,
		}})
	})
}

// Push routes one frame to the active pipeline.
func (d *Dual) Push(f audio.Frame) { d.active.Load().Push(f) }

// State returns the active pipeline's state.
func (d *Dual) State() State { return d.active.Load().State() }

// Mode reports which pipeline is serving.
func (d *Dual) Mode() string {
	if d.mode.Load() == 1 {
		return ModeEnhanced
	}
	return ModeBasic
}

// Drops returns the active pipeline's frame drop count.
func (d *Dual) Drops() int64 { return d.active.Load().Drops() }

// SetAggressiveness forwards to both pipelines so a later fallback keeps
// the tuning.
func (d *Dual) SetAggressiveness(level int) error {
	if err := d.basic.SetAggressiveness(level); err != nil {
		return err
	}
	if d.enhanced != nil {
		return d.enhanced.SetAggressiveness(level)
	}
	return nil
}

// SetWakeSensitivity forwards to both pipelines.
func (d *Dual) SetWakeSensitivity(s float64) error {
	if err := d.basic.SetWakeSensitivity(s); err != nil {
		return err
	}
	if d.enhanced != nil {
		return d.enhanced.SetWakeSensitivity(s)
	}
	return nil
}

// Stop shuts both pipelines down.
func (d *Dual) Stop() error {
	var errs []error
	if d.enhanced != nil {
		if err := d.enhanced.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.basic.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
