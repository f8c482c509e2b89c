package bus

import (
	"testing"
	"time"
)

// drainAvailable reads every event currently queued on sub.
func drainAvailable(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublish_DeliversToMatchingSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(TypeTranscriptReady)
	defer sub.Close()

	b.Publish(Event{Type: TypeTranscriptReady, Payload: Transcript{Text: "hello"}})
	b.Publish(Event{Type: TypeSpeechStarted})

	evs := drainAvailable(sub)
	if len(evs) != 1 {
		t.Fatalf("received %d events, want 1", len(evs))
	}
	if evs[0].Type != TypeTranscriptReady {
		t.Errorf("type = %q, want transcript_ready", evs[0].Type)
	}
	tr, ok := evs[0].Payload.(Transcript)
	if !ok || tr.Text != "hello" {
		t.Errorf("payload = %#v, want Transcript{Text: hello}", evs[0].Payload)
	}
	if evs[0].Time.IsZero() {
		t.Error("event time was not stamped")
	}
}

func TestSubscribe_NoTypesReceivesAll(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(Event{Type: TypeSpeechStarted})
	b.Publish(Event{Type: TypeStateChanged, Payload: StateChanged{Old: "idle", New: "listening"}})

	if evs := drainAvailable(sub); len(evs) != 2 {
		t.Errorf("received %d events, want 2", len(evs))
	}
}

func TestPublish_InOrderPerSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(TypeStateChanged)
	defer sub.Close()

	states := []string{"idle", "listening", "recording", "processing"}
	for i := 1; i < len(states); i++ {
		b.Publish(Event{Type: TypeStateChanged, Payload: StateChanged{Old: states[i-1], New: states[i]}})
	}

	evs := drainAvailable(sub)
	if len(evs) != 3 {
		t.Fatalf("received %d events, want 3", len(evs))
	}
	for i, ev := range evs {
		sc := ev.Payload.(StateChanged)
		if sc.Old != states[i] || sc.New != states[i+1] {
			t.Errorf("event %d = %v -> %v, want %v -> %v", i, sc.Old, sc.New, states[i], states[i+1])
		}
	}
}

func TestPublish_OverflowDropsOldestAndReports(t *testing.T) {
	b := New(WithQueueSize(2))
	defer b.Close()

	slow := b.Subscribe(TypeSpeechEnded)
	defer slow.Close()
	watcher := b.Subscribe(TypeError)
	defer watcher.Close()

	for i := 1; i <= 3; i++ {
		b.Publish(Event{Type: TypeSpeechEnded, Payload: SpeechEnded{Bytes: i}})
	}

	evs := drainAvailable(slow)
	if len(evs) != 2 {
		t.Fatalf("slow subscriber has %d events, want 2", len(evs))
	}
	// The oldest (Bytes: 1) must be the one dropped.
	if got := evs[0].Payload.(SpeechEnded).Bytes; got != 2 {
		t.Errorf("first queued event Bytes = %d, want 2", got)
	}
	if got := evs[1].Payload.(SpeechEnded).Bytes; got != 3 {
		t.Errorf("second queued event Bytes = %d, want 3", got)
	}
	if slow.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", slow.Dropped())
	}

	errs := drainAvailable(watcher)
	if len(errs) != 1 {
		t.Fatalf("watcher has %d error events, want 1", len(errs))
	}
	if e := errs[0].Payload.(Error); e.Kind != "overflow" {
		t.Errorf("error kind = %q, want overflow", e.Kind)
	}
}

func TestPublish_OverflowOfErrorSubscriberDoesNotRecurse(t *testing.T) {
	b := New(WithQueueSize(1))
	defer b.Close()

	// Subscribes to errors only and never drains.
	sub := b.Subscribe(TypeError)
	defer sub.Close()

	// Each publish overflows the error queue, which must not generate an
	// unbounded cascade of further overflow reports.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			b.Publish(Event{Type: TypeError, Payload: Error{Kind: "timeout"}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing error events did not terminate")
	}
}

func TestSubscriptionClose_Deregisters(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe(TypeResponseReady)
	sub.Close()

	// Publishing after close must not panic, and the channel is closed.
	b.Publish(Event{Type: TypeResponseReady, Payload: Response{Text: "hi"}})

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after Close")
	}
	// Closing again is safe.
	sub.Close()
}

func TestBusClose_ClosesAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe(TypeError)

	b.Close()

	if _, ok := <-s1.Events(); ok {
		t.Error("s1 channel still open after bus close")
	}
	if _, ok := <-s2.Events(); ok {
		t.Error("s2 channel still open after bus close")
	}

	// Publish and Subscribe after close are harmless.
	b.Publish(Event{Type: TypeSpeechStarted})
	s3 := b.Subscribe()
	if _, ok := <-s3.Events(); ok {
		t.Error("subscription created after close should be closed")
	}
	b.Close()
}
