package openwake

import (
	"context"
	"errors"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine"
	"github.com/kagami-sh/kagami/pkg/engine/wake"
)

// Inference tests need the ONNX Runtime shared library and the three model
// files, so unit coverage sticks to constructor contracts and the pure
// window arithmetic.

func TestNew_MissingModelsIsUnavailable(t *testing.T) {
	_, err := New(Config{PhraseModels: map[string]string{"hey kagami": "hey_kagami.onnx"}})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want engine.ErrUnavailable", err)
	}
}

func TestNew_NoPhraseModels(t *testing.T) {
	_, err := New(Config{
		MelspecModel:   "melspectrogram.onnx",
		EmbeddingModel: "embedding_model.onnx",
	})
	if err == nil {
		t.Fatal("New() succeeded without phrase models")
	}
	if errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want a validation error, not ErrUnavailable", err)
	}
}

func TestNew_MissingRuntimeIsUnavailable(t *testing.T) {
	_, err := New(Config{
		MelspecModel:   "testdata/melspectrogram.onnx",
		EmbeddingModel: "testdata/embedding_model.onnx",
		PhraseModels:   map[string]string{"hey kagami": "testdata/hey_kagami.onnx"},
		OnnxLibPath:    "testdata/does_not_exist.so",
	})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want engine.ErrUnavailable", err)
	}
}

func TestNew_RejectsInvalidSensitivity(t *testing.T) {
	_, err := New(Config{
		MelspecModel:   "melspectrogram.onnx",
		EmbeddingModel: "embedding_model.onnx",
		PhraseModels:   map[string]string{"hey kagami": "hey_kagami.onnx"},
		Sensitivity:    1.5,
	})
	if err == nil {
		t.Fatal("New() accepted sensitivity 1.5")
	}
}

func TestDetect_ShortWindowIsNoDetection(t *testing.T) {
	// A window below the minimum never touches the models, so even an
	// engine with no sessions can answer.
	e := &Engine{evalInterval: defaultEvalInterval, cooldown: defaultCooldown}

	short := make([]byte, (minMelFrames/melPerChunk)*chunkSamples*2-2)
	word, ok, err := e.Detect(context.Background(), short)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if ok || word != "" {
		t.Fatalf("Detect() = (%q, %v) on a too-short window", word, ok)
	}
}

func TestThreshold_TracksSensitivity(t *testing.T) {
	e := &Engine{}

	cases := []struct {
		sensitivity float64
		want        float32
	}{
		{0, 0.8},
		{wake.DefaultSensitivity, 0.5},
		{1, 0.2},
	}
	for _, tc := range cases {
		if err := e.SetSensitivity(tc.sensitivity); err != nil {
			t.Fatalf("SetSensitivity(%v) error = %v", tc.sensitivity, err)
		}
		if got := e.threshold(); got != tc.want {
			t.Fatalf("threshold() at sensitivity %v = %v, want %v", tc.sensitivity, got, tc.want)
		}
	}
}

func TestMinMelFrames(t *testing.T) {
	// Five scored embeddings need 76 + 4*8 mel frames, just under 1.8 s
	// of audio. The default trailing window must cover that.
	if minMelFrames != 108 {
		t.Fatalf("minMelFrames = %d, want 108", minMelFrames)
	}
	chunks := (minMelFrames + melPerChunk - 1) / melPerChunk
	if minAudio := chunks * 80; minAudio > int(wake.DefaultWindow.Milliseconds()) {
		t.Fatalf("minimum audio %d ms exceeds the default window %v", minAudio, wake.DefaultWindow)
	}
}
