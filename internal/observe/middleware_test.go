package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newInstrumentedHandler wires a Metrics bundle backed by a manual reader
// plus in-memory tracing, and wraps h in the middleware.
func newInstrumentedHandler(t *testing.T, h http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	inMemoryTracing(t)
	return Middleware(m)(h), reader
}

func TestMiddleware_EchoesTraceIDToClient(t *testing.T) {
	var inHandler string
	h, _ := newInstrumentedHandler(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	if len(inHandler) != 32 {
		t.Fatalf("handler trace id = %q, want 32 hex chars", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	h, reader := newInstrumentedHandler(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "kagami.http.request.duration")
	if met == nil {
		t.Fatal("kagami.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("unexpected metric shape %T", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("count = %d, want 1", dp.Count)
	}
	wantAttrs := map[string]string{"method": "GET", "path": "/healthz"}
	for _, kv := range dp.Attributes.ToSlice() {
		if want, ok := wantAttrs[string(kv.Key)]; ok && kv.Value.AsString() == want {
			delete(wantAttrs, string(kv.Key))
		}
	}
	if len(wantAttrs) != 0 {
		t.Errorf("missing attributes %v", wantAttrs)
	}
}

func TestMiddleware_TracksDownstreamStatus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := inMemoryTracing(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /nope" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var got int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			got = a.Value.AsInt64()
		}
	}
	if got != 404 {
		t.Errorf("span status attribute = %d, want 404", got)
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inHandler string
	h, _ := newInstrumentedHandler(t, func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inHandler != upstream {
		t.Errorf("trace id = %q, want the upstream %q", inHandler, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}
