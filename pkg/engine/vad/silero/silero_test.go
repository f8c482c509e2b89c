package silero

import (
	"errors"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// Inference tests need the ONNX Runtime shared library and a model file, so
// unit coverage here sticks to constructor contracts. The dual pipeline
// relies on New signalling ErrUnavailable when the enhanced stack is absent.

func TestNew_MissingModelPathIsUnavailable(t *testing.T) {
	_, err := New(Config{Aggressiveness: 1})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want engine.ErrUnavailable", err)
	}
}

func TestNew_MissingRuntimeOrModelIsUnavailable(t *testing.T) {
	_, err := New(Config{
		ModelPath:   "testdata/does_not_exist.onnx",
		OnnxLibPath: "testdata/does_not_exist.so",
	})
	if err == nil {
		t.Fatal("New() succeeded with nonexistent runtime and model")
	}
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want engine.ErrUnavailable", err)
	}
}

func TestNew_RejectsInvalidAggressiveness(t *testing.T) {
	_, err := New(Config{ModelPath: "model.onnx", Aggressiveness: 4})
	if err == nil {
		t.Fatal("New() accepted aggressiveness 4")
	}
	if errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("New() error = %v, want a validation error, not ErrUnavailable", err)
	}
}
