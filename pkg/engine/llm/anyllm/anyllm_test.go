package anyllm

import (
	"strings"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "some-model"); err == nil {
		t.Fatal("New() with empty backend succeeded")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Fatal("New() with empty model succeeded")
	}
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New("nonexistent-backend", "some-model")
	if err == nil {
		t.Fatal("New() with unsupported backend succeeded")
	}
	if !strings.Contains(err.Error(), "unsupported backend") {
		t.Fatalf("New() error = %v, want an unsupported-backend message", err)
	}
}

func TestBuildParams(t *testing.T) {
	e, err := NewOllama("qwen2.5:3b")
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	opts := llm.Options{MaxTokens: 200, Temperature: 0.8}
	params := e.buildParams("say hi", opts)

	if params.Model != "qwen2.5:3b" {
		t.Fatalf("Model = %q, want %q", params.Model, "qwen2.5:3b")
	}
	if len(params.Messages) != 1 || params.Messages[0].Content != "say hi" {
		t.Fatalf("Messages = %+v, want a single user message", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.8 {
		t.Fatalf("Temperature = %v, want 0.8", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Fatalf("MaxTokens = %v, want 200", params.MaxTokens)
	}
}

func TestBuildParams_ZeroOptionsLeaveDefaults(t *testing.T) {
	e, err := NewOllama("qwen2.5:3b")
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	params := e.buildParams("hello", llm.Options{})
	if params.Temperature != nil {
		t.Fatalf("Temperature = %v, want nil", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Fatalf("MaxTokens = %v, want nil", params.MaxTokens)
	}
}
