package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracing installs a TracerProvider as the OpenTelemetry global. No
// span exporter is attached by default. Callers running with a collector
// available should attach one via sdktrace.WithBatcher before any spans
// are created; without one, spans are created and ended but go nowhere,
// which still lets engine code unconditionally instrument itself with
// otel.Tracer(...) the way the rest of this codebase does.
func InitTracing(ctx context.Context, service string) (trace.Tracer, func(context.Context) error, error) {
	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("merge resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(provider)

	return provider.Tracer("weaver"), provider.Shutdown, nil
}
