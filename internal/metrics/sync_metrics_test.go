package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(labels...).Write(metric))
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func TestSyncMetrics_Counters(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordReplay("create_order", ResultSuccess)
	m.RecordReplay("create_order", ResultSuccess)
	m.RecordReplay("update_status", ResultFailed)
	m.RecordInlineWrite("create_order", ResultEnqueued)
	m.RecordChangePublished(ResultSuccess)
	m.RecordRefresh(ResultFailed)

	require.Equal(t, 2.0, counterValue(t, m.replayAttempts, "create_order", ResultSuccess))
	require.Equal(t, 1.0, counterValue(t, m.replayAttempts, "update_status", ResultFailed))
	require.Equal(t, 1.0, counterValue(t, m.inlineWrites, "create_order", ResultEnqueued))
	require.Equal(t, 1.0, counterValue(t, m.changesPublished, ResultSuccess))
	require.Equal(t, 1.0, counterValue(t, m.refreshes, ResultFailed))

	m.RecordSessionCleanup(ResultSuccess, 3)
	m.RecordSessionCleanup(ResultSkipped, 0)
	require.Equal(t, 1.0, counterValue(t, m.sessionCleanups, ResultSuccess))
	require.Equal(t, 1.0, counterValue(t, m.sessionCleanups, ResultSkipped))
	require.Equal(t, 3.0, counterValue(t, m.sessionsPurged))
}

func TestSyncMetrics_Backlog(t *testing.T) {
	m := NewSyncMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetBacklog(3, time.Now().Add(-10*time.Second))
	require.Equal(t, 3.0, gaugeValue(t, m.queueDepth))
	require.GreaterOrEqual(t, gaugeValue(t, m.oldestPendingAge), 10.0)

	m.SetBacklog(0, time.Time{})
	require.Zero(t, gaugeValue(t, m.queueDepth))
	require.Zero(t, gaugeValue(t, m.oldestPendingAge))

	m.SetDraining(true)
	require.Equal(t, 1.0, gaugeValue(t, m.draining))
	m.SetDraining(false)
	require.Zero(t, gaugeValue(t, m.draining))

	m.SetOnline(true)
	require.Equal(t, 1.0, gaugeValue(t, m.online))
}

func TestSyncMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSyncMetricsWithRegisterer(reg)
	second := NewSyncMetricsWithRegisterer(reg)

	first.RecordRefresh(ResultSuccess)
	require.Equal(t, 1.0, counterValue(t, second.refreshes, ResultSuccess))
}

func TestSyncMetrics_NilSafe(t *testing.T) {
	var m *SyncMetrics
	m.RecordReplay("create_order", ResultSuccess)
	m.SetBacklog(1, time.Now())
	m.SetDraining(true)
	m.ObserveDrain(time.Second)
}
