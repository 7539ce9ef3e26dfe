// Package observe provides application-wide observability primitives for
// VoxBridge: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all VoxBridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderCallDuration tracks upstream provider call latency. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderCallDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end message pipeline latency per turn.
	TurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// JobDuration tracks async job execution latency by job type.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...),
	//   attribute.Bool("fallback", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and error kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations by tool name and status.
	ToolCalls metric.Int64Counter

	// UsageTokens counts billed tokens by provider and direction.
	UsageTokens metric.Int64Counter

	// UsageCostCents counts billed cost in cents by provider.
	UsageCostCents metric.Int64Counter

	// JobsProcessed counts finished jobs by type and terminal status.
	JobsProcessed metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions currently holding a
	// processing lock.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast mock calls and multi-second retry cascades.
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
	if met.ProviderCallDuration, err = m.Float64Histogram("voxbridge.provider.call.duration",
		metric.WithDescription("Latency of upstream provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxbridge.pipeline.turn.duration",
		metric.WithDescription("End-to-end message pipeline latency per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("voxbridge.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("voxbridge.job.duration",
		metric.WithDescription("Async job execution latency by job type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxbridge.provider.requests",
		metric.WithDescription("Total provider calls by provider, status, and fallback flag."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxbridge.provider.errors",
		metric.WithDescription("Total provider errors by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxbridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.UsageTokens, err = m.Int64Counter("voxbridge.usage.tokens",
		metric.WithDescription("Billed tokens by provider and direction."),
	); err != nil {
		return nil, err
	}
	if met.UsageCostCents, err = m.Int64Counter("voxbridge.usage.cost_cents",
		metric.WithDescription("Billed cost in cents by provider."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("voxbridge.jobs.processed",
		metric.WithDescription("Finished jobs by type and terminal status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Sessions currently holding a processing lock."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordProviderCall records one provider call: the request counter, the
// latency histogram, and the error counter when kind is non-empty.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, status string, fallback bool, seconds float64, errKind string) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
		attribute.Bool("fallback", fallback),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderCallDuration.Record(ctx, seconds, attrs)
	if errKind != "" {
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", errKind),
			),
		)
	}
}

// RecordToolCall records a tool invocation with its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, attrs)
}

// RecordUsage records a billed usage event.
func (m *Metrics) RecordUsage(ctx context.Context, provider string, tokensIn, tokensOut, costCents int64) {
	m.UsageTokens.Add(ctx, tokensIn,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("direction", "in"),
		),
	)
	m.UsageTokens.Add(ctx, tokensOut,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("direction", "out"),
		),
	)
	m.UsageCostCents.Add(ctx, costCents,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordJob records a finished job with its latency.
func (m *Metrics) RecordJob(ctx context.Context, jobType, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("type", jobType),
		attribute.String("status", status),
	)
	m.JobsProcessed.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, seconds, attrs)
}
