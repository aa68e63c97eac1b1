// Package traceexport ships loop iteration spans to an OTLP endpoint.
// Export is opt-in: without OTEL_EXPORTER_OTLP_ENDPOINT in the
// environment, the exporter is nil and every method is a no-op.
package traceexport

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "ralph"

// Exporter exports loop spans over OTLP/HTTP.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// New creates an exporter when OTEL_EXPORTER_OTLP_ENDPOINT is set, and
// returns nil (disabled) otherwise.
func New(ctx context.Context) (*Exporter, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &Exporter{
		provider: provider,
		tracer:   provider.Tracer("ralph/loop"),
	}, nil
}

// StartIteration opens a span around one loop iteration. Safe on a nil
// exporter: the returned span is a no-op.
func (e *Exporter) StartIteration(ctx context.Context, loopID, hatID string, iteration int) (context.Context, oteltrace.Span) {
	if e == nil {
		return noop.NewTracerProvider().Tracer("ralph/loop").Start(ctx, "iteration")
	}
	return e.tracer.Start(ctx, "iteration",
		oteltrace.WithAttributes(
			attribute.String("ralph.loop.id", loopID),
			attribute.String("ralph.hat.id", hatID),
			attribute.Int("ralph.iteration", iteration),
		),
	)
}

// Shutdown flushes and closes the exporter. Safe on a nil exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.provider.Shutdown(ctx)
}
