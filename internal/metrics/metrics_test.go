package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumByAttr(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecorder_RecordsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	rec, err := New(provider.Meter("amikeeper"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.RecordRun(ctx, "success", 2*time.Second)
	rec.RecordCreation(ctx, "success")
	rec.RecordCreation(ctx, "success")
	rec.RecordCreation(ctx, "failed")
	rec.RecordDeletion(ctx, "success")
	rec.RecordSnapshot(ctx, "success")
	rec.RecordSnapshot(ctx, "failed")
	rec.RecordSkipped(ctx, "malformed")

	got := collect(t, reader)

	assert.Equal(t, int64(1), sumByAttr(t, got["amikeeper.runs"], "status", "success"))
	assert.Equal(t, int64(2), sumByAttr(t, got["amikeeper.images.created"], "status", "success"))
	assert.Equal(t, int64(1), sumByAttr(t, got["amikeeper.images.created"], "status", "failed"))
	assert.Equal(t, int64(1), sumByAttr(t, got["amikeeper.images.deregistered"], "status", "success"))
	assert.Equal(t, int64(1), sumByAttr(t, got["amikeeper.snapshots.deleted"], "status", "failed"))
	assert.Equal(t, int64(1), sumByAttr(t, got["amikeeper.items.skipped"], "reason", "malformed"))

	hist, ok := got["amikeeper.run.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 2.0, hist.DataPoints[0].Sum, 0.001)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder

	assert.NotPanics(t, func() {
		ctx := context.Background()
		rec.RecordRun(ctx, "failed", time.Second)
		rec.RecordCreation(ctx, "success")
		rec.RecordDeletion(ctx, "success")
		rec.RecordSnapshot(ctx, "success")
		rec.RecordSkipped(ctx, "alive")
	})
}
