package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
)

// BillNumberGenerator выдаёт номер для нового заказа.
type BillNumberGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// ServiceOptions задаёт зависимости фасада, не обязательные для работы.
type ServiceOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.SyncMetrics
	Publisher domain.ChangePublisher
	Origin    string
	Now       func() time.Time
}

// Option настраивает Service.
type Option func(*ServiceOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ServiceOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *ServiceOptions) {
		opts.Metrics = m
	}
}

// WithChangePublisher задаёт публикацию уведомлений после прямой удалённой записи.
func WithChangePublisher(publisher domain.ChangePublisher, origin string) Option {
	return func(opts *ServiceOptions) {
		opts.Publisher = publisher
		opts.Origin = origin
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *ServiceOptions) {
		opts.Now = now
	}
}

// Service — единая точка входа для мутаций заказов, каталога и корзины.
//
// Каждая мутация сначала сохраняется в локальный снапшот, затем либо пишется
// в удалённое хранилище напрямую, либо ставится в очередь. Ошибка удалённой записи
// вызывающему не возвращается: операция уходит в очередь.
type Service struct {
	mu sync.Mutex
	// generation растёт при каждой записи в снапшот под mu.
	generation atomic.Uint64

	snapshot  domain.SnapshotStore
	queue     domain.OperationQueue
	remote    domain.RemoteStore
	conn      domain.Connectivity
	bills     BillNumberGenerator
	publisher domain.ChangePublisher
	origin    string
	metrics   *metrics.SyncMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт фасад мутаций.
func NewService(
	snapshot domain.SnapshotStore,
	queue domain.OperationQueue,
	remote domain.RemoteStore,
	conn domain.Connectivity,
	bills BillNumberGenerator,
	options ...Option,
) *Service {
	opts := ServiceOptions{Now: time.Now}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "billing-service")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		snapshot:  snapshot,
		queue:     queue,
		remote:    remote,
		conn:      conn,
		bills:     bills,
		publisher: opts.Publisher,
		origin:    opts.Origin,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       opts.Now,
	}
}

// dispatch доставляет операцию в удалённое хранилище или ставит её в очередь.
// Прямая запись выполняется только при пустой очереди: иначе операция обогнала бы
// ещё не подтверждённые предыдущие мутации.
func (s *Service) dispatch(ctx context.Context, op domain.PendingOperation) error {
	s.generation.Add(1)
	entry := s.logger.WithFields(log.Fields{
		"operation_id":   op.ID,
		"operation_type": op.Type,
	})

	if !s.conn.Online() {
		return s.enqueue(ctx, op, "offline")
	}

	pending, err := s.queue.Len(ctx)
	if err != nil {
		return fatal("read queue", err)
	}
	if pending > 0 {
		return s.enqueue(ctx, op, "queue_not_empty")
	}

	// Начатую удалённую запись не отменяем вместе с запросом.
	if err := syncer.Apply(context.WithoutCancel(ctx), s.remote, op); err != nil {
		entry.WithError(err).Warn("inline remote write failed, falling back to queue")
		return s.enqueue(ctx, op, "remote_failed")
	}

	s.metrics.RecordInlineWrite(string(op.Type), metrics.ResultSuccess)
	s.publishChange(ctx, op)
	return nil
}

// commit вызывает dispatch после локальной записи. Если операцию не удалось
// ни записать удалённо, ни поставить в очередь, undo откатывает локальную запись:
// оптимистичное изменение без операции в очереди никогда не синхронизируется.
func (s *Service) commit(ctx context.Context, op domain.PendingOperation, undo func(context.Context) error) error {
	err := s.dispatch(ctx, op)
	if err == nil {
		return nil
	}
	return s.rollback(ctx, op, err, undo)
}

func (s *Service) rollback(ctx context.Context, op domain.PendingOperation, cause error, undo func(context.Context) error) error {
	if undo == nil {
		return cause
	}
	if undoErr := undo(context.WithoutCancel(ctx)); undoErr != nil {
		s.logger.WithError(undoErr).WithFields(log.Fields{
			"operation_id":   op.ID,
			"operation_type": op.Type,
		}).Error("failed to roll back local write")
		return errors.Join(cause, fatal("roll back local write", undoErr))
	}
	s.metrics.RecordInlineWrite(string(op.Type), metrics.ResultFailed)
	return cause
}

// dropOrder убирает заказ из снапшота.
func (s *Service) dropOrder(ctx context.Context, orderID string) error {
	orders, err := s.snapshot.Orders(ctx)
	if err != nil {
		return err
	}
	kept := orders[:0]
	for _, order := range orders {
		if order.ID != orderID {
			kept = append(kept, order)
		}
	}
	return s.snapshot.ReplaceOrders(ctx, kept)
}

func (s *Service) enqueue(ctx context.Context, op domain.PendingOperation, reason string) error {
	if _, err := s.queue.Append(ctx, op); err != nil {
		return fatal("append pending operation", err)
	}
	s.metrics.RecordInlineWrite(string(op.Type), metrics.ResultEnqueued)
	s.logger.WithFields(log.Fields{
		"operation_id":   op.ID,
		"operation_type": op.Type,
		"reason":         reason,
	}).Debug("operation queued for sync")
	return nil
}

func (s *Service) publishChange(ctx context.Context, op domain.PendingOperation) {
	if s.publisher == nil {
		return
	}
	change := syncer.ChangeFor(op, s.origin, s.now())
	if err := s.publisher.PublishChange(ctx, change); err != nil {
		s.metrics.RecordChangePublished(metrics.ResultFailed)
		s.logger.WithError(err).WithField("record_id", change.RecordID).Warn("failed to publish change notification")
		return
	}
	s.metrics.RecordChangePublished(metrics.ResultSuccess)
}

func fatal(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLocalStorageUnavailable, what, err)
}

// lookupErr пропускает «не найдено» как есть, остальное считает отказом локального хранилища.
func lookupErr(what string, err error) error {
	if domain.IsNotFound(err) {
		return err
	}
	return fatal(what, err)
}

func validationErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Generation возвращает счётчик локальных записей. Обновление снапшота сравнивает его
// до чтения удалённых данных и под Locker: рост означает, что прочитанное уже устарело.
func (s *Service) Generation() uint64 {
	return s.generation.Load()
}

// Locker возвращает блокировку мутаций фасада. Её берёт обновление снапшота,
// чтобы не затереть оптимистичную запись, сделанную во время чтения удалённых данных.
func (s *Service) Locker() sync.Locker {
	return &s.mu
}
