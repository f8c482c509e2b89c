package energy

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// frame builds a 30ms 16kHz mono frame with a constant sample amplitude.
func frame(amplitude int16) []byte {
	buf := make([]byte, 960)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(amplitude))
	}
	return buf
}

func TestIsSpeech_LoudVsQuiet(t *testing.T) {
	e, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	speech, err := e.IsSpeech(frame(8000))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if !speech {
		t.Error("loud frame classified as non-speech")
	}

	speech, err = e.IsSpeech(frame(10))
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	if speech {
		t.Error("near-silent frame classified as speech")
	}
}

func TestIsSpeech_InvalidFrameSize(t *testing.T) {
	e, _ := New(0)
	_, err := e.IsSpeech(make([]byte, 100))
	if !errors.Is(err, engine.ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
}

func TestSetAggressiveness_TakesEffectNextFrame(t *testing.T) {
	e, _ := New(0)

	// Moderate amplitude passes at level 0.
	if speech, _ := e.IsSpeech(frame(300)); !speech {
		t.Fatal("moderate frame rejected at level 0")
	}

	if err := e.SetAggressiveness(3); err != nil {
		t.Fatalf("SetAggressiveness: %v", err)
	}
	if speech, _ := e.IsSpeech(frame(300)); speech {
		t.Error("moderate frame accepted at level 3")
	}
}

func TestSetAggressiveness_RejectsOutOfRange(t *testing.T) {
	e, _ := New(0)
	if err := e.SetAggressiveness(4); err == nil {
		t.Error("expected error for level 4")
	}
	if err := e.SetAggressiveness(-1); err == nil {
		t.Error("expected error for level -1")
	}
}

func TestNoiseFloorAdapts(t *testing.T) {
	e, _ := New(1)

	// Fresh engine: a soft voice clears the default floor.
	if speech, _ := e.IsSpeech(frame(280)); !speech {
		t.Fatal("soft frame rejected before adaptation")
	}

	// Sustained ambient noise just below the absolute floor raises the
	// tracked noise floor.
	for range 200 {
		_, _ = e.IsSpeech(frame(200))
	}

	// The same soft voice now sits under 2x the adapted floor.
	if speech, _ := e.IsSpeech(frame(280)); speech {
		t.Error("soft frame still classified as speech after adaptation")
	}

	// A clearly louder frame must still pass.
	if speech, _ := e.IsSpeech(frame(8000)); !speech {
		t.Error("loud frame rejected after adaptation")
	}
}

func TestReset_RestoresFloor(t *testing.T) {
	e, _ := New(1)
	for range 200 {
		_, _ = e.IsSpeech(frame(200))
	}
	e.Reset()
	if speech, _ := e.IsSpeech(frame(280)); !speech {
		t.Error("soft frame rejected after Reset restored the noise floor")
	}
}

func TestNew_RejectsInvalidLevel(t *testing.T) {
	if _, err := New(7); err == nil {
		t.Error("expected error for invalid aggressiveness")
	}
}
