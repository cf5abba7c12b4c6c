// Package refresh заменяет локальный снапшот авторитетным состоянием удалённого хранилища.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
)

var (
	// ErrOffline — обновление пропущено: сеть недоступна.
	ErrOffline = errors.New("refresh skipped: device is offline")
	// ErrPendingOperations — обновление пропущено: в очереди есть неподтверждённые мутации,
	// и замена снапшота стёрла бы их оптимистичный результат.
	ErrPendingOperations = errors.New("refresh skipped: pending operations in queue")
	// ErrConcurrentWrites — каждое чтение удалённых данных обгоняла локальная запись.
	ErrConcurrentWrites = errors.New("refresh skipped: local writes during remote read")
)

// maxReadAttempts ограничивает повторные чтения, если локальные записи не прекращаются.
const maxReadAttempts = 3

// IsSkipped сообщает, что обновление не выполнялось и повторять его сразу не нужно.
func IsSkipped(err error) bool {
	return errors.Is(err, ErrOffline) || errors.Is(err, ErrPendingOperations) || errors.Is(err, ErrConcurrentWrites)
}

// Options задаёт необязательные зависимости Refresher.
type Options struct {
	Logger     *log.Entry
	Metrics    *metrics.SyncMetrics
	Locker     sync.Locker
	Generation func() uint64
	Origin     string
}

// Option настраивает Refresher.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithLocker задаёт блокировку, общую с фасадом мутаций:
// замена снапшота не должна пересекаться с оптимистичной записью.
func WithLocker(locker sync.Locker) Option {
	return func(opts *Options) {
		opts.Locker = locker
	}
}

// WithGeneration задаёт счётчик локальных записей фасада. Если он вырос, пока шло
// чтение удалённых данных, прочитанное не содержит этих записей и снапшот не заменяется.
func WithGeneration(generation func() uint64) Option {
	return func(opts *Options) {
		opts.Generation = generation
	}
}

// WithOrigin задаёт идентификатор устройства; собственные уведомления игнорируются.
func WithOrigin(origin string) Option {
	return func(opts *Options) {
		opts.Origin = origin
	}
}

// Refresher перечитывает каталог и заказы из удалённого хранилища.
type Refresher struct {
	remote   domain.RemoteStore
	snapshot domain.SnapshotStore
	queue    domain.OperationQueue
	conn     domain.Connectivity
	locker   sync.Locker
	gen      func() uint64
	origin   string
	metrics  *metrics.SyncMetrics
	logger   *log.Entry

	inflight sync.Mutex
}

// NewRefresher создаёт Refresher.
func NewRefresher(remote domain.RemoteStore, snapshot domain.SnapshotStore, queue domain.OperationQueue, conn domain.Connectivity, options ...Option) *Refresher {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "snapshot-refresher")
	}
	locker := opts.Locker
	if locker == nil {
		locker = &sync.Mutex{}
	}

	return &Refresher{
		remote:   remote,
		snapshot: snapshot,
		queue:    queue,
		conn:     conn,
		locker:   locker,
		gen:      opts.Generation,
		origin:   opts.Origin,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Refresh полностью заменяет товары и заказы снапшота данными удалённого хранилища.
// Корзина не трогается. При ошибке чтения снапшот остаётся прежним.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.inflight.Lock()
	defer r.inflight.Unlock()

	err := r.refresh(ctx)
	switch {
	case err == nil:
		r.metrics.RecordRefresh(metrics.ResultSuccess)
	case IsSkipped(err):
		r.metrics.RecordRefresh(metrics.ResultSkipped)
		r.logger.WithError(err).Debug("snapshot refresh skipped")
	default:
		r.metrics.RecordRefresh(metrics.ResultFailed)
		r.logger.WithError(err).Warn("snapshot refresh failed")
	}
	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		err := r.refreshOnce(ctx)
		if !errors.Is(err, ErrConcurrentWrites) {
			return err
		}
		r.logger.WithField("attempt", attempt).Debug("local write during remote read, reading again")
	}
	return ErrConcurrentWrites
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	if !r.conn.Online() {
		return ErrOffline
	}
	if err := r.checkQueueEmpty(ctx); err != nil {
		return err
	}
	before := r.generation()

	products, err := r.remote.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("%w: list products: %v", domain.ErrRemoteUnavailable, err)
	}
	orders, err := r.remote.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("%w: list orders: %v", domain.ErrRemoteUnavailable, err)
	}

	r.locker.Lock()
	defer r.locker.Unlock()

	// Пока шло чтение, фасад мог записать заказ напрямую или поставить операцию в очередь.
	if err := r.checkQueueEmpty(ctx); err != nil {
		return err
	}
	if r.generation() != before {
		return ErrConcurrentWrites
	}
	if err := r.snapshot.ReplaceProducts(ctx, products); err != nil {
		return fmt.Errorf("%w: replace products: %v", domain.ErrLocalStorageUnavailable, err)
	}
	if err := r.snapshot.ReplaceOrders(ctx, orders); err != nil {
		return fmt.Errorf("%w: replace orders: %v", domain.ErrLocalStorageUnavailable, err)
	}

	r.logger.WithFields(log.Fields{
		"products": len(products),
		"orders":   len(orders),
	}).Info("snapshot refreshed from remote store")
	return nil
}

func (r *Refresher) generation() uint64 {
	if r.gen == nil {
		return 0
	}
	return r.gen()
}

func (r *Refresher) checkQueueEmpty(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}
	pending, err := r.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("%w: read queue: %v", domain.ErrLocalStorageUnavailable, err)
	}
	if pending > 0 {
		return fmt.Errorf("%w: %d", ErrPendingOperations, pending)
	}
	return nil
}

// HandleChange обрабатывает уведомление из ленты изменений.
// Собственные уведомления устройства и пропущенные обновления ошибкой не считаются.
func (r *Refresher) HandleChange(ctx context.Context, change domain.ChangeNotification) error {
	if r.origin != "" && change.Origin == r.origin {
		return nil
	}
	r.logger.WithFields(log.Fields{
		"table":     change.Table,
		"record_id": change.RecordID,
		"origin":    change.Origin,
	}).Debug("remote change received")

	if err := r.Refresh(ctx); err != nil && !IsSkipped(err) {
		return err
	}
	return nil
}
