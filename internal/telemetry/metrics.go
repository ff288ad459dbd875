// Package telemetry provides ifengine's OpenTelemetry metrics: a Prometheus
// exporter bridge and a package-level default [Metrics] instance, mirroring
// the way the teacher wires observability at the process boundary rather
// than inside internal/logging's own category loggers.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ifengine"

// Metrics holds every OpenTelemetry instrument ifengine records against.
// All fields are safe for concurrent use; the underlying OTel instruments
// handle their own synchronization.
type Metrics struct {
	TurnDuration         metric.Float64Histogram
	VectorSearchDuration metric.Float64Histogram

	TurnsTotal       metric.Int64Counter
	NavigationOps    metric.Int64Counter
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	ToolCalls        metric.Int64Counter
	RetryAttempts    metric.Int64Counter

	ActiveBranches metric.Int64UpDownCounter
	UndoStackDepth metric.Int64UpDownCounter
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewMetrics builds a fully initialized Metrics from mp. Returns an error if
// any instrument registration fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.TurnDuration, err = m.Float64Histogram("ifengine.turn.duration",
		metric.WithDescription("Latency of a full director/writer turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VectorSearchDuration, err = m.Float64Histogram("ifengine.vectorstore.search.duration",
		metric.WithDescription("Latency of a top-K vector store search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnsTotal, err = m.Int64Counter("ifengine.turns.total",
		metric.WithDescription("Total turns processed, by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.NavigationOps, err = m.Int64Counter("ifengine.navigation.ops",
		metric.WithDescription("Total navigation operations (select, switch, erase, retry, edit, undo, redo)."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("ifengine.provider.requests",
		metric.WithDescription("Total chat/embed provider requests, by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ifengine.provider.errors",
		metric.WithDescription("Total chat/embed provider errors, by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("ifengine.tool.calls",
		metric.WithDescription("Total director tool calls, by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("ifengine.retry.attempts",
		metric.WithDescription("Total provider call retries, by label."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBranches, err = m.Int64UpDownCounter("ifengine.tree.active_branches",
		metric.WithDescription("Number of leaf branches in the current story tree."),
	); err != nil {
		return nil, err
	}
	if met.UndoStackDepth, err = m.Int64UpDownCounter("ifengine.engine.undo_stack_depth",
		metric.WithDescription("Current depth of the undo stack."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance, built on first
// call from otel.GetMeterProvider. Panics if instrument creation fails,
// which should not happen against the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("telemetry: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records a completed turn's latency and outcome.
func (m *Metrics) RecordTurn(ctx context.Context, kind string, seconds float64, status string) {
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
	m.TurnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordNavigation records a navigation operation (select/switch/erase/
// retry/edit/undo/redo) by kind and outcome.
func (m *Metrics) RecordNavigation(ctx context.Context, kind, status string) {
	m.NavigationOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderRequest records a provider call outcome.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if status == "error" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
}

// RecordToolCall records a director tool-call dispatch outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordRetry records a single retry attempt made by internal/engine's
// backoff helper.
func (m *Metrics) RecordRetry(ctx context.Context, label string, attempt int) {
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("label", label),
		attribute.Int("attempt", attempt),
	))
}

// RecordVectorSearch records a vector store search's latency.
func (m *Metrics) RecordVectorSearch(ctx context.Context, store string, seconds float64) {
	m.VectorSearchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("store", store)))
}
