package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the global OTel providers installed by
// [InitProvider].
type ProviderConfig struct {
	// ServiceName identifies this process in telemetry. Default "kagami".
	ServiceName string

	// ServiceVersion is stamped on all telemetry.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process
	// only, which is the normal standalone-server configuration.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global meter and tracer providers: metrics go
// through the Prometheus bridge (scraped at /metrics on the diagnostics
// server), spans to the configured exporter if any. The returned shutdown
// flushes both; defer it from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kagami"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var closers []func(context.Context) error

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)
	otel.SetMeterProvider(mp)
	closers = append(closers, mp.Shutdown)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	closers = append(closers, tp.Shutdown)

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range closers {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}, nil
}
