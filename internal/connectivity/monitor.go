package connectivity

import (
	"sync"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
)

// Monitor хранит текущее состояние сети и оповещает подписчиков о переходе offline → online.
// Значение Online — подсказка: удалённая запись может упасть и при true.
type Monitor struct {
	mu          sync.RWMutex
	online      bool
	subscribers []chan struct{}
	metrics     *metrics.SyncMetrics
}

// NewMonitor создаёт монитор с начальным состоянием initial.
func NewMonitor(initial bool, syncMetrics *metrics.SyncMetrics) *Monitor {
	syncMetrics.SetOnline(initial)
	return &Monitor{online: initial, metrics: syncMetrics}
}

// Online возвращает последнее известное состояние сети.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline обновляет состояние. Подписчики получают сигнал только на переходе offline → online.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	reconnected := online && !m.online
	m.online = online
	subscribers := m.subscribers
	m.mu.Unlock()

	m.metrics.SetOnline(online)
	if !reconnected {
		return
	}
	for _, ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe возвращает канал сигналов о восстановлении связи. Сигналы схлопываются.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

var _ domain.Connectivity = (*Monitor)(nil)
