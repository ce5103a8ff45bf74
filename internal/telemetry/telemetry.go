// Package telemetry initializes tracing and the metrics registry.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects what to bring up.
type Config struct {
	ServiceName    string
	ServiceVersion string
	TracesEnabled  bool
	OTLPEndpoint   string
	MetricsEnabled bool
}

// Telemetry holds the process-wide observability handles.
type Telemetry struct {
	// Registry collects all prometheus metrics, exposed at /metrics and
	// fed by the metrics middleware.
	Registry *prometheus.Registry

	tracerProvider *sdktrace.TracerProvider
}

// Init brings up the prometheus registry and, when enabled, an OTLP/HTTP
// trace exporter registered as the global tracer provider.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	t := &Telemetry{Registry: prometheus.NewRegistry()}

	if cfg.MetricsEnabled {
		t.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.TracesEnabled {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		res := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.tracerProvider)
	}

	return t, nil
}

// Shutdown flushes and stops the trace pipeline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.Shutdown(ctx)
}
