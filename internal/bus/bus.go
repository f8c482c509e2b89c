// Package bus provides the typed publish/subscribe channel connecting the
// runtime's components: the audio pipeline publishes speech and state
// events, the conversation core consumes transcripts and publishes
// responses, and external adapters (the WebSocket surface, the TTS
// reactor) subscribe to whatever they need.
//
// # Delivery contract
//
// Delivery is at-most-once and in-order per subscriber. Each subscriber
// owns a bounded queue; Publish never blocks on a slow subscriber.
// When a queue is full the OLDEST queued event is dropped to make room,
// the loss is counted, and an [TypeError] event with kind "overflow" is
// published so that the loss is observable. Loss reports are themselves
// never re-reported.
//
// Subscriptions are handles: releasing one with [Subscription.Close]
// deregisters the subscriber and closes its channel.
package bus

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event kind on the bus.
type Type string

// Event types produced by the runtime.
const (
	// TypeWakeWordDetected: the pipeline spotted the wake phrase.
	// Payload: [WakeWord].
	TypeWakeWordDetected Type = "wake_word_detected"

	// TypeSpeechStarted: the pipeline began recording an utterance.
	// Payload: none.
	TypeSpeechStarted Type = "speech_started"

	// TypeSpeechEnded: the utterance ended. Payload: [SpeechEnded].
	TypeSpeechEnded Type = "speech_ended"

	// TypeTranscriptReady: STT produced text. Payload: [Transcript].
	TypeTranscriptReady Type = "transcript_ready"

	// TypeStateChanged: the pipeline state machine moved.
	// Payload: [StateChanged].
	TypeStateChanged Type = "state_changed"

	// TypePipelineSwitched: the dual pipeline fell back.
	// Payload: [PipelineSwitched].
	TypePipelineSwitched Type = "pipeline_switched"

	// TypeResponseToken: one streamed fragment of an in-progress reply.
	// Payload: [Token].
	TypeResponseToken Type = "response_token"

	// TypeResponseReady: the conversation core produced a reply.
	// Payload: [Response].
	TypeResponseReady Type = "response_ready"

	// TypeMotionTrigger: a motion group should play. Payload: [Motion].
	TypeMotionTrigger Type = "motion_trigger"

	// TypeError: a recoverable failure. Payload: [Error].
	TypeError Type = "error"
)

// Event is one message on the bus. Payload holds the typed payload struct
// for the event's Type; events without data carry a nil payload.
type Event struct {
	Type    Type
	Time    time.Time
	Payload any
}

// WakeWord is the payload of [TypeWakeWordDetected].
type WakeWord struct {
	// Word is the canonical configured wake phrase.
	Word string
}

// SpeechEnded is the payload of [TypeSpeechEnded].
type SpeechEnded struct {
	// Bytes is the recorded utterance length in PCM bytes.
	Bytes int
}

// Transcript is the payload of [TypeTranscriptReady].
type Transcript struct {
	UserID     string
	ModelID    string
	Text       string
	Confidence float64
	Language   string
	Latency    time.Duration
}

// StateChanged is the payload of [TypeStateChanged].
type StateChanged struct {
	Old string
	New string
}

// PipelineSwitched is the payload of [TypePipelineSwitched].
type PipelineSwitched struct {
	From   string
	To     string
	Reason string
}

// Token is the payload of [TypeResponseToken].
type Token struct {
	UserID  string
	ModelID string
	Text    string
}

// Response is the payload of [TypeResponseReady].
type Response struct {
	UserID  string
	ModelID string
	Text    string
	Emotion string
}

// Motion is the payload of [TypeMotionTrigger].
type Motion struct {
	Group    string
	Name     string
	Priority int
}

// Error is the payload of [TypeError].
type Error struct {
	// Kind classifies the failure ("engine_unavailable", "decode_failed",
	// "timeout", "overflow", ...).
	Kind string

	// Message is the human-readable description.
	Message string
}

// DefaultQueueSize is the per-subscriber queue depth used when none is
// configured.
const DefaultQueueSize = 64

// Bus is the typed pub/sub hub. Safe for concurrent use.
type Bus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID atomic.Int64
	closed bool
}

// Option is a functional option for configuring a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue depth. The default is
// [DefaultQueueSize].
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize: DefaultQueueSize,
		subs:      make(map[int64]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is a handle to one subscriber's event queue. Obtain one
// with [Bus.Subscribe]; release it with [Subscription.Close].
type Subscription struct {
	bus   *Bus
	id    int64
	types map[Type]struct{} // nil means all types

	// mu serialises queue mutations so drop-oldest cannot race a send.
	mu     sync.Mutex
	ch     chan Event
	closed bool

	dropped   atomic.Int64
	closeOnce sync.Once
}

// Subscribe registers a subscriber for the given event types. With no
// types, the subscriber receives every event. The returned subscription's
// channel must be drained; slow consumers lose their oldest events rather
// than blocking producers.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	s := &Subscription{
		bus: b,
		id:  b.nextID.Add(1),
		ch:  make(chan Event, b.queueSize),
	}
	if len(types) > 0 {
		s.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns the number of events this subscriber has lost to
// overflow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close deregisters the subscriber and closes its channel. Safe to call
// multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Publish delivers ev to every matching subscriber. A zero Time is
// stamped with the current time. Publish never blocks.
func (b *Bus) Publish(ev Event) {
	b.publish(ev, true)
}

func (b *Bus) publish(ev Event, reportLoss bool) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	var overflowed []*Subscription
	for _, s := range subs {
		if s.types != nil {
			if _, ok := s.types[ev.Type]; !ok {
				continue
			}
		}
		if s.offer(ev) {
			overflowed = append(overflowed, s)
		}
	}

	// Report losses after delivery so the overflow event itself cannot
	// reorder ahead of the event that caused it. Loss reports are never
	// re-reported.
	if reportLoss {
		for _, s := range overflowed {
			b.publish(Event{
				Type: TypeError,
				Payload: Error{
					Kind:    "overflow",
					Message: "subscriber queue full, dropped oldest event (total " + strconv.FormatInt(s.dropped.Load(), 10) + ")",
				},
			}, false)
		}
	}
}

// offer enqueues ev, dropping the oldest queued event when the queue is
// full. It reports whether a drop occurred.
func (s *Subscription) offer(ev Event) (droppedOldest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sending on a closed channel would panic; a closed subscription
	// silently discards.
	if s.closed {
		return false
	}

	select {
	case s.ch <- ev:
		return false
	default:
	}

	// Queue full: evict the oldest, then retry once.
	select {
	case <-s.ch:
		s.dropped.Add(1)
		droppedOldest = true
	default:
	}
	select {
	case s.ch <- ev:
	default:
		// Still full (consumer raced us); count the new event as lost.
		s.dropped.Add(1)
		droppedOldest = true
	}
	return droppedOldest
}

// Close shuts the bus down: all subscriptions are closed and further
// Publish calls are ignored. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = map[int64]*Subscription{}
	b.mu.Unlock()

	for _, s := range subs {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
}
