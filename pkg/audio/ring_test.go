package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/kagami-sh/kagami/pkg/audio"
)

func TestRing_TailBeforeFull(t *testing.T) {
	r := audio.NewRing(16000, time.Second)
	r.Write(samplesToBytes([]int16{1, 2, 3, 4}))

	got := r.Tail(time.Second)
	want := samplesToBytes([]int16{1, 2, 3, 4})
	if !bytes.Equal(got, want) {
		t.Errorf("Tail = %v, want %v", bytesToSamples(got), bytesToSamples(want))
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	// Capacity of 4 samples (250µs at 16kHz).
	r := audio.NewRing(16000, 250*time.Microsecond)
	r.Write(samplesToBytes([]int16{1, 2, 3, 4}))
	r.Write(samplesToBytes([]int16{5, 6}))

	got := bytesToSamples(r.Tail(time.Second))
	want := []int16{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRing_WriteLargerThanCapacity(t *testing.T) {
	r := audio.NewRing(16000, 125*time.Microsecond) // 2 samples
	r.Write(samplesToBytes([]int16{1, 2, 3, 4, 5}))

	got := bytesToSamples(r.Tail(time.Second))
	want := []int16{4, 5}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Tail = %v, want %v", got, want)
	}
}

func TestRing_TailShorterThanHeld(t *testing.T) {
	r := audio.NewRing(16000, time.Second)
	r.Write(make([]byte, audio.FrameBytes(16000, 500*time.Millisecond)))

	tail := r.Tail(100 * time.Millisecond)
	if got, want := len(tail), audio.FrameBytes(16000, 100*time.Millisecond); got != want {
		t.Errorf("tail bytes = %d, want %d", got, want)
	}
}

func TestRing_Reset(t *testing.T) {
	r := audio.NewRing(16000, time.Second)
	r.Write(samplesToBytes([]int16{1, 2, 3}))
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", r.Len())
	}
	if tail := r.Tail(time.Second); tail != nil {
		t.Errorf("Tail after Reset = %v, want nil", tail)
	}
}

func TestRing_DurationTracksWrites(t *testing.T) {
	r := audio.NewRing(16000, 10*time.Second)
	r.Write(make([]byte, audio.FrameBytes(16000, 30*time.Millisecond)))
	r.Write(make([]byte, audio.FrameBytes(16000, 30*time.Millisecond)))
	if got := r.Duration(); got != 60*time.Millisecond {
		t.Errorf("Duration = %v, want 60ms", got)
	}
}
