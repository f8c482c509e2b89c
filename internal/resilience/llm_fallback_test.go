package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine/llm"
	llmmock "github.com/kagami-sh/kagami/pkg/engine/llm/mock"
)

func TestLLMFallback_Generate_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Engine{GenerateResponse: "hello from primary"}
	secondary := &llmmock.Engine{GenerateResponse: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from primary" {
		t.Fatalf("text = %q, want 'hello from primary'", text)
	}
	if len(primary.GenerateCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.GenerateCalls))
	}
	if len(secondary.GenerateCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.GenerateCalls))
	}
}

func TestLLMFallback_Generate_Failover(t *testing.T) {
	primary := &llmmock.Engine{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Engine{GenerateResponse: "hello from secondary"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from secondary" {
		t.Fatalf("text = %q, want 'hello from secondary'", text)
	}
}

func TestLLMFallback_Generate_AllFail(t *testing.T) {
	primary := &llmmock.Engine{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Engine{GenerateErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Stream_Failover(t *testing.T) {
	primary := &llmmock.Engine{StreamErr: errors.New("stream failed")}
	secondary := &llmmock.Engine{
		StreamChunks: []llm.Chunk{{Text: "chunk1"}, {Text: "chunk2", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.Stream(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks []llm.Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "chunk1" {
		t.Fatalf("chunk[0].Text = %q, want chunk1", chunks[0].Text)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Engine{
		CapabilitiesResponse: llm.Capabilities{
			ContextWindow:     8192,
			SupportsStreaming: true,
		},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	caps := fb.Capabilities()
	if caps.ContextWindow != 8192 {
		t.Fatalf("ContextWindow = %d, want 8192", caps.ContextWindow)
	}
	if !caps.SupportsStreaming {
		t.Fatal("SupportsStreaming should be true")
	}
}

func TestLLMFallback_Close_ClosesAll(t *testing.T) {
	primary := &llmmock.Engine{}
	secondary := &llmmock.Engine{CloseErr: errors.New("close failed")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err == nil {
		t.Fatal("expected close error to propagate")
	}
	if primary.CloseCallCount != 1 || secondary.CloseCallCount != 1 {
		t.Fatalf("close counts = %d/%d, want 1/1",
			primary.CloseCallCount, secondary.CloseCallCount)
	}
}
