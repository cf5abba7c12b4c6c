package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты для меток result.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultPermanent = "permanent"
	ResultEnqueued  = "enqueued"
	ResultSkipped   = "skipped"
)

// SyncMetrics — метрики очереди операций и её воспроизведения.
type SyncMetrics struct {
	replayAttempts   *prometheus.CounterVec
	inlineWrites     *prometheus.CounterVec
	changesPublished *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	sessionCleanups  *prometheus.CounterVec
	sessionsPurged   *prometheus.CounterVec

	queueDepth       prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	draining         prometheus.Gauge
	online           prometheus.Gauge

	drainDuration prometheus.Histogram
}

// NewSyncMetrics регистрирует метрики в DefaultRegisterer.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer регистрирует метрики в переданном реестре (изолированно в тестах).
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		replayAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_replay_attempts_total",
			Help: "Total number of pending operation replay attempts grouped by result.",
		}, []string{"op_type", "result"}),
		inlineWrites: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_inline_writes_total",
			Help: "Total number of mutations written remotely inline or enqueued for replay.",
		}, []string{"op_type", "result"}),
		changesPublished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_change_notifications_total",
			Help: "Total number of change notifications published grouped by result.",
		}, []string{"result"}),
		refreshes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_snapshot_refreshes_total",
			Help: "Total number of authoritative snapshot refreshes grouped by result.",
		}, []string{"result"}),
		sessionCleanups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_session_cleanup_runs_total",
			Help: "Total number of expired session cleanup runs grouped by result.",
		}, []string{"result"}),
		sessionsPurged: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "posync_sessions_purged_total",
			Help: "Total number of expired sessions deleted from the remote store.",
		}, nil),
		queueDepth: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "posync_pending_operations",
			Help: "Current number of operations in the pending queue.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "posync_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending operation.",
		}),
		draining: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "posync_draining",
			Help: "1 while the sync processor is draining the queue.",
		}),
		online: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "posync_online",
			Help: "1 when the remote store is considered reachable.",
		}),
		drainDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "posync_drain_duration_seconds",
			Help:    "Duration of a queue drain pass in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// RecordReplay учитывает попытку воспроизведения операции.
func (m *SyncMetrics) RecordReplay(opType, result string) {
	if m == nil {
		return
	}
	m.replayAttempts.WithLabelValues(opType, result).Inc()
}

// RecordInlineWrite учитывает исход прямой удалённой записи из фасада.
func (m *SyncMetrics) RecordInlineWrite(opType, result string) {
	if m == nil {
		return
	}
	m.inlineWrites.WithLabelValues(opType, result).Inc()
}

// RecordChangePublished учитывает отправку уведомления об изменении.
func (m *SyncMetrics) RecordChangePublished(result string) {
	if m == nil {
		return
	}
	m.changesPublished.WithLabelValues(result).Inc()
}

// RecordRefresh учитывает авторитетное обновление снапшота.
func (m *SyncMetrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// RecordSessionCleanup учитывает проход очистки истёкших сессий.
func (m *SyncMetrics) RecordSessionCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.sessionCleanups.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.sessionsPurged.WithLabelValues().Add(float64(deleted))
	}
}

// SetBacklog обновляет глубину очереди и возраст самой старой операции.
func (m *SyncMetrics) SetBacklog(depth int, oldest time.Time) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	if depth == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := time.Since(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// SetDraining отмечает начало и конец прохода по очереди.
func (m *SyncMetrics) SetDraining(draining bool) {
	if m == nil {
		return
	}
	if draining {
		m.draining.Set(1)
		return
	}
	m.draining.Set(0)
}

// SetOnline отражает текущую доступность сети.
func (m *SyncMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

// ObserveDrain записывает длительность прохода по очереди.
func (m *SyncMetrics) ObserveDrain(duration time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(duration.Seconds())
}
