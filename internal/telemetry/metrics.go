package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// EngineMetrics holds the named task-orchestration instruments InitMetrics
// registers, mirroring the resilience/otelinit instrument-set pattern used
// elsewhere in this codebase. The engine and worker pool do not record
// against them; only a caller holding an EngineMetrics value does.
type EngineMetrics struct {
	TasksLeased       metric.Int64Counter
	TasksSucceeded    metric.Int64Counter
	TasksRetried      metric.Int64Counter
	TasksDead         metric.Int64Counter
	TasksDecomposed   metric.Int64Counter
	AttemptDuration   metric.Float64Histogram
	ReadyQueueDepth   metric.Int64Gauge
	DependencyWaiters metric.Int64Gauge
}

// InitMetrics registers a Prometheus pull exporter as the global
// MeterProvider and returns both the engine's named instruments and an
// http.Handler a caller can mount at /metrics. Unlike a push-based OTLP
// pipeline, nothing here talks to a collector: Prometheus scrapes the
// returned handler directly.
func InitMetrics(service string) (EngineMetrics, http.Handler, error) {
	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return EngineMetrics{}, nil, fmt.Errorf("merge resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return EngineMetrics{}, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("weaver")
	m := EngineMetrics{}
	m.TasksLeased, _ = meter.Int64Counter("weaver_tasks_leased_total")
	m.TasksSucceeded, _ = meter.Int64Counter("weaver_tasks_succeeded_total")
	m.TasksRetried, _ = meter.Int64Counter("weaver_tasks_retried_total")
	m.TasksDead, _ = meter.Int64Counter("weaver_tasks_dead_total")
	m.TasksDecomposed, _ = meter.Int64Counter("weaver_tasks_decomposed_total")
	m.AttemptDuration, _ = meter.Float64Histogram("weaver_attempt_duration_ms")
	m.ReadyQueueDepth, _ = meter.Int64Gauge("weaver_ready_queue_depth")
	m.DependencyWaiters, _ = meter.Int64Gauge("weaver_dependency_waiters")

	return m, promhttp.Handler(), nil
}

// ObserveAttempt records one handler invocation's wall-clock duration.
func (m EngineMetrics) ObserveAttempt(ctx context.Context, start time.Time) {
	if m.AttemptDuration == nil {
		return
	}
	m.AttemptDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
}
