package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	assert.NotNil(t, m)
}

func TestRecordTurn_IncrementsCounterAndHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "act", 0.2, "ok")
	m.RecordTurn(ctx, "act", 0.4, "ok")

	rm := collect(t, reader)

	dur := findMetric(rm, "ifengine.turn.duration")
	require.NotNil(t, dur)
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 2, hist.DataPoints[0].Count)

	total := findMetric(rm, "ifengine.turns.total")
	require.NotNil(t, total)
	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.EqualValues(t, 2, sum.DataPoints[0].Value)
}

func TestRecordProviderRequest_ErrorStatusAlsoIncrementsErrorCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "anthropic", "chat", "ok")
	m.RecordProviderRequest(ctx, "anthropic", "chat", "error")

	rm := collect(t, reader)

	reqs := findMetric(rm, "ifengine.provider.requests")
	require.NotNil(t, reqs)
	reqSum, ok := reqs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range reqSum.DataPoints {
		total += dp.Value
	}
	assert.EqualValues(t, 2, total)

	errs := findMetric(rm, "ifengine.provider.errors")
	require.NotNil(t, errs)
	errSum, ok := errs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errSum.DataPoints, 1)
	assert.EqualValues(t, 1, errSum.DataPoints[0].Value)
}

func TestRecordNavigation_TracksKindAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNavigation(ctx, "erase", "ok")
	m.RecordNavigation(ctx, "retry", "ok")

	rm := collect(t, reader)
	met := findMetric(rm, "ifengine.navigation.ops")
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)
}

func TestActiveBranchesGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveBranches.Add(ctx, 3)
	m.ActiveBranches.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "ifengine.tree.active_branches")
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.EqualValues(t, 2, sum.DataPoints[0].Value)
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	assert.Same(t, a, b)
}
