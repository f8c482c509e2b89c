package phonetic

import (
	"context"
	"errors"
	"testing"

	"github.com/kagami-sh/kagami/pkg/audio"
	"github.com/kagami-sh/kagami/pkg/engine/stt"
	sttmock "github.com/kagami-sh/kagami/pkg/engine/stt/mock"
)

// window returns a PCM buffer long enough to pass the minimum-window gate.
func window() []byte {
	return make([]byte, audio.FrameBytes(audio.SampleRate, minWindow))
}

func TestDetect_ExactPhrase(t *testing.T) {
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "hey kagami please wake up"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	word, ok, err := d.Detect(context.Background(), window())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !ok || word != "hey kagami" {
		t.Fatalf("Detect() = (%q, %v), want (\"hey kagami\", true)", word, ok)
	}
}

func TestDetect_MisheardPhrase(t *testing.T) {
	// STT regularly garbles the second word; metaphone overlap plus
	// Jaro-Winkler ranking should still resolve it.
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "hey kagome said something"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	word, ok, err := d.Detect(context.Background(), window())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !ok || word != "hey kagami" {
		t.Fatalf("Detect() = (%q, %v), want (\"hey kagami\", true)", word, ok)
	}
}

func TestDetect_DroppedLeadingWord(t *testing.T) {
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "kagami"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	word, ok, err := d.Detect(context.Background(), window())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if !ok || word != "hey kagami" {
		t.Fatalf("Detect() = (%q, %v), want (\"hey kagami\", true)", word, ok)
	}
}

func TestDetect_UnrelatedSpeech(t *testing.T) {
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "what is the weather today"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	word, ok, err := d.Detect(context.Background(), window())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if ok {
		t.Fatalf("Detect() matched %q on unrelated speech", word)
	}
}

func TestDetect_ShortWindowSkipsTranscription(t *testing.T) {
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "hey kagami"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	short := make([]byte, audio.FrameBytes(audio.SampleRate, minWindow)/2)
	_, ok, err := d.Detect(context.Background(), short)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if ok {
		t.Fatal("Detect() fired on a window below the minimum")
	}
	if len(tr.TranscribeCalls) != 0 {
		t.Fatalf("Detect() transcribed a too-short window %d times", len(tr.TranscribeCalls))
	}
}

func TestDetect_CooldownSuppressesRetrigger(t *testing.T) {
	tr := &sttmock.Engine{TranscribeResult: stt.Result{Text: "hey kagami"}}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, ok, err := d.Detect(context.Background(), window())
	if err != nil || !ok {
		t.Fatalf("first Detect() = (ok=%v, err=%v), want a detection", ok, err)
	}

	// The phrase is still inside the trailing window; the cooldown has to
	// keep it from firing twice for one utterance.
	_, ok, err = d.Detect(context.Background(), window())
	if err != nil {
		t.Fatalf("second Detect() error = %v", err)
	}
	if ok {
		t.Fatal("second Detect() re-triggered inside the cooldown")
	}
	if calls := len(tr.TranscribeCalls); calls != 1 {
		t.Fatalf("transcribe calls = %d, want 1 (cooldown should skip the STT pass)", calls)
	}
}

func TestDetect_TranscribeErrorPropagates(t *testing.T) {
	wantErr := errors.New("model crashed")
	tr := &sttmock.Engine{TranscribeErr: wantErr}
	d, err := New(tr, []string{"hey kagami"}, WithEvalInterval(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, ok, err := d.Detect(context.Background(), window())
	if ok {
		t.Fatal("Detect() reported a detection alongside an error")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("Detect() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestSetSensitivity_Validates(t *testing.T) {
	tr := &sttmock.Engine{}
	d, err := New(tr, []string{"hey kagami"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := d.SetSensitivity(0.8); err != nil {
		t.Fatalf("SetSensitivity(0.8) error = %v", err)
	}
	if err := d.SetSensitivity(1.5); err == nil {
		t.Fatal("SetSensitivity(1.5) accepted an out-of-range value")
	}
	if err := d.SetSensitivity(-0.1); err == nil {
		t.Fatal("SetSensitivity(-0.1) accepted an out-of-range value")
	}
}

func TestNew_Validation(t *testing.T) {
	tr := &sttmock.Engine{}

	if _, err := New(nil, []string{"hey kagami"}); err == nil {
		t.Fatal("New(nil transcriber) succeeded")
	}
	if _, err := New(tr, nil); err == nil {
		t.Fatal("New() with no phrases succeeded")
	}
	if _, err := New(tr, []string{"   "}); err == nil {
		t.Fatal("New() with a blank phrase succeeded")
	}
	if _, err := New(tr, []string{"hey kagami"}, WithSensitivity(2)); err == nil {
		t.Fatal("New() with sensitivity 2 succeeded")
	}
}

func TestClose_ClosesOwnedTranscriber(t *testing.T) {
	tr := &sttmock.Engine{}
	d, err := New(tr, []string{"hey kagami"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if tr.CloseCallCount != 1 {
		t.Fatalf("transcriber Close calls = %d, want 1", tr.CloseCallCount)
	}
}
