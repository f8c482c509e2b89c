package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// inMemoryTracing swaps in a provider whose spans land in the returned
// exporter, restoring the global on cleanup.
func inMemoryTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_NoSpanMeansEmpty(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty without a span", got)
	}
}

func TestCorrelationID_IsTheHexTraceID(t *testing.T) {
	inMemoryTracing(t)

	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("len = %d, want 32 hex chars", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("non-hex correlation id %q", cid)
	}
}

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := inMemoryTracing(t)

	_, span := StartSpan(context.Background(), "stt.transcribe")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "stt.transcribe" {
		t.Errorf("name = %q", spans[0].Name)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	inMemoryTracing(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "turn")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate trace id %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLogger_AnnotatesWithSpanIDs(t *testing.T) {
	inMemoryTracing(t)

	var sb strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&sb, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()
	Logger(ctx).Info("generated reply")

	out := sb.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span annotations: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	var sb strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&sb, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("startup")

	if strings.Contains(sb.String(), "trace_id") {
		t.Errorf("unexpected trace annotation: %s", sb.String())
	}
}
