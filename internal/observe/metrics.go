// Package observe provides application-wide observability primitives for
// Astral: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Astral metrics.
const meterName = "github.com/astralforge/astral"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// GeneratorDuration tracks audio generator latency. Use with attribute:
	//   attribute.String("kind", ...) — narrate/npc/ambient/sfx
	GeneratorDuration metric.Float64Histogram

	// TurnDuration tracks full DM turn latency (player message to text_end).
	TurnDuration metric.Float64Histogram

	// WorkItems counts pipeline work items. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...) —
	//   delivered/dropped/canceled
	WorkItems metric.Int64Counter

	// CacheLookups counts artifact-cache lookups. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("result", ...) — hit/miss
	CacheLookups metric.Int64Counter

	// ToolCalls counts model tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ActiveSessions tracks the number of live player sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// generator and turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GeneratorDuration, err = m.Float64Histogram("astral.generator.duration",
		metric.WithDescription("Latency of audio generation by segment kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("astral.turn.duration",
		metric.WithDescription("Latency of one full DM turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WorkItems, err = m.Int64Counter("astral.pipeline.work_items",
		metric.WithDescription("Pipeline work items by kind and delivery status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("astral.cache.lookups",
		metric.WithDescription("Artifact-cache lookups by kind and result."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("astral.tool.calls",
		metric.WithDescription("Model tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("astral.active_sessions",
		metric.WithDescription("Number of live player sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("astral.http.request.duration",
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

// RecordWorkItem records one pipeline work item outcome.
func (m *Metrics) RecordWorkItem(ctx context.Context, kind, status string) {
	m.WorkItems.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup records one artifact-cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		),
	)
}

// RecordToolCall records one model tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
