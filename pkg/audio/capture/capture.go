// Package capture provides a local microphone frame source backed by
// miniaudio (malgo). It feeds the voice pipeline in standalone desktop
// mode, where no external shell delivers audio.
//
// The source opens one capture device at the pipeline-native format
// (16 kHz mono int16) and emits fixed-duration [audio.Frame] values on a
// bounded channel. Frames that arrive while the channel is full are
// dropped and counted rather than blocking the device callback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/kagami-sh/kagami/pkg/audio"
)

// frameQueueCap bounds the outgoing frame channel. At 30 ms frames this is
// roughly one second of slack before drops begin.
const frameQueueCap = 32

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithFrameDuration sets the emitted frame length. Valid values are 10, 20
// and 30 ms; the default is 30 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) {
		s.frameDur = d
	}
}

// WithDeviceLog forwards miniaudio context log lines to slog at debug level.
func WithDeviceLog() Option {
	return func(s *Source) {
		s.deviceLog = true
	}
}

// Source captures microphone audio and repackages it into pipeline frames.
// Create with New, call Start once, then drain Frames until Close.
type Source struct {
	frameDur  time.Duration
	deviceLog bool

	frames chan audio.Frame
	drops  atomic.Int64

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	started bool

	closeOnce sync.Once
}

// New creates a Source. The device is not opened until Start.
func New(opts ...Option) *Source {
	s := &Source{
		frameDur: audio.DefaultFrameDuration,
		frames:   make(chan audio.Frame, frameQueueCap),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Frames returns the channel of captured frames. The channel is closed by
// [Source.Close].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Drops returns the number of frames discarded because the consumer fell
// behind.
func (s *Source) Drops() int64 { return s.drops.Load() }

// Start opens the default capture device and begins emitting frames.
// It returns an error if the device cannot be opened; ctx only bounds the
// initialisation, not the capture lifetime.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("capture: already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}

	logCb := func(string) {}
	if s.deviceLog {
		logCb = func(msg string) { slog.Debug("capture: miniaudio", "msg", msg) }
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, logCb)
	if err != nil {
		return fmt.Errorf("capture: init context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = audio.SampleRate
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1

	frameBytes := audio.FrameBytes(audio.SampleRate, s.frameDur)
	var (
		pending  []byte
		captured time.Duration
	)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_ []byte, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			pending = append(pending, raw...)
			for len(pending) >= frameBytes {
				data := make([]byte, frameBytes)
				copy(data, pending[:frameBytes])
				pending = pending[frameBytes:]

				frame := audio.Frame{
					Data:       data,
					SampleRate: audio.SampleRate,
					Channels:   1,
					Timestamp:  captured,
				}
				captured += s.frameDur

				select {
				case s.frames <- frame:
				default:
					s.drops.Add(1)
				}
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture: start device: %w", err)
	}

	s.mctx = mctx
	s.device = device
	s.started = true

	slog.Info("capture: microphone started",
		"rate", audio.SampleRate,
		"frame", s.frameDur,
	)
	return nil
}

// Close stops the device, releases miniaudio resources, and closes the
// frame channel. Safe to call multiple times.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
			s.device = nil
		}
		if s.mctx != nil {
			_ = s.mctx.Uninit()
			s.mctx.Free()
			s.mctx = nil
		}
		close(s.frames)

		if n := s.drops.Load(); n > 0 {
			slog.Warn("capture: frames dropped during session", "count", n)
		}
	})
	return nil
}
