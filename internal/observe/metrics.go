// Package observe provides application-wide observability primitives for
// Kagami: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kagami metrics.
const meterName = "github.com/kagami-sh/kagami"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end conversation turn latency, from
	// transcript receipt to response emission.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversation turns. Use with attributes:
	//   attribute.String("model_id", ...), attribute.String("source", "llm"|"cache"|"fallback")
	Turns metric.Int64Counter

	// CacheLookups counts response cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// WakeDetections counts wake word detections by word.
	WakeDetections metric.Int64Counter

	// StateTransitions counts audio pipeline state transitions. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// FrameDrops counts audio frames dropped due to queue pressure.
	FrameDrops metric.Int64Counter

	// BusDrops counts events dropped by saturated bus subscribers.
	BusDrops metric.Int64Counter

	// MemoryWrites counts long-term memory writes by memory type.
	MemoryWrites metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts engine failures. Use with attributes:
	//   attribute.String("engine", "vad"|"wake"|"stt"|"llm"|"tts"), attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live (user, model) sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("kagami.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("kagami.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("kagami.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("kagami.turn.duration",
		metric.WithDescription("End-to-end conversation turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("kagami.turns",
		metric.WithDescription("Total completed conversation turns by model and response source."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("kagami.cache.lookups",
		metric.WithDescription("Total response cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("kagami.wake.detections",
		metric.WithDescription("Total wake word detections by word."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("kagami.pipeline.transitions",
		metric.WithDescription("Total audio pipeline state transitions by edge."),
	); err != nil {
		return nil, err
	}
	if met.FrameDrops, err = m.Int64Counter("kagami.pipeline.frame_drops",
		metric.WithDescription("Total audio frames dropped under queue pressure."),
	); err != nil {
		return nil, err
	}
	if met.BusDrops, err = m.Int64Counter("kagami.bus.drops",
		metric.WithDescription("Total events dropped by saturated bus subscribers."),
	); err != nil {
		return nil, err
	}
	if met.MemoryWrites, err = m.Int64Counter("kagami.memory.writes",
		metric.WithDescription("Total long-term memory writes by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("kagami.engine.errors",
		metric.WithDescription("Total engine failures by engine and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("kagami.active_sessions",
		metric.WithDescription("Number of live (user, model) sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kagami.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records one completed conversation turn with the standard
// attribute set. source is "llm", "cache", or "fallback".
func (m *Metrics) RecordTurn(ctx context.Context, modelID, source string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model_id", modelID),
			attribute.String("source", source),
		),
	)
}

// RecordCacheLookup records one response cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordWakeDetection records one wake word detection.
func (m *Metrics) RecordWakeDetection(ctx context.Context, word string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("word", word)),
	)
}

// RecordStateTransition records one pipeline state transition edge.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordMemoryWrite records one long-term memory write.
func (m *Metrics) RecordMemoryWrite(ctx context.Context, memType string) {
	m.MemoryWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", memType)),
	)
}

// RecordEngineError records one engine failure.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, kind string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}
