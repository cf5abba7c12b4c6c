package syncer

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
)

// ErrOffline возвращается Drain, когда сеть недоступна и очередь не трогается.
var ErrOffline = errors.New("device is offline")

// ProcessorOptions задаёт параметры процессора очереди.
type ProcessorOptions struct {
	Logger    *log.Entry
	Metrics   *metrics.SyncMetrics
	Publisher domain.ChangePublisher
	Origin    string
	Reconnect <-chan struct{}
	OnDrained func(ctx context.Context)
	Now       func() time.Time
}

// Option настраивает Processor.
type Option func(*ProcessorOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *ProcessorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *ProcessorOptions) {
		opts.Metrics = m
	}
}

// WithChangePublisher задаёт публикацию уведомлений после подтверждения операции.
func WithChangePublisher(publisher domain.ChangePublisher, origin string) Option {
	return func(opts *ProcessorOptions) {
		opts.Publisher = publisher
		opts.Origin = origin
	}
}

// WithReconnectSignal задаёт канал сигналов о восстановлении связи.
func WithReconnectSignal(reconnect <-chan struct{}) Option {
	return func(opts *ProcessorOptions) {
		opts.Reconnect = reconnect
	}
}

// WithOnDrained задаёт хук, вызываемый после того, как проход опустошил очередь.
func WithOnDrained(fn func(ctx context.Context)) Option {
	return func(opts *ProcessorOptions) {
		opts.OnDrained = fn
	}
}

// Status — текущее состояние синхронизации для индикатора «ожидает отправки».
type Status struct {
	Draining      bool      `json:"draining"`
	Pending       int       `json:"pending"`
	OldestPending time.Time `json:"oldest_pending,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Processor воспроизводит очередь операций против удалённого хранилища строго по одной, в порядке FIFO.
// Неудачная операция остаётся в голове очереди до следующего триггера.
type Processor struct {
	queue     domain.OperationQueue
	remote    domain.RemoteStore
	conn      domain.Connectivity
	publisher domain.ChangePublisher
	origin    string
	metrics   *metrics.SyncMetrics
	logger    *log.Entry
	reconnect <-chan struct{}
	onDrained func(ctx context.Context)
	now       func() time.Time

	drainMu  sync.Mutex
	draining atomic.Bool
	lastErr  atomic.Value
	nudges   chan struct{}
}

// NewProcessor создаёт процессор очереди.
func NewProcessor(queue domain.OperationQueue, remote domain.RemoteStore, conn domain.Connectivity, options ...Option) *Processor {
	opts := ProcessorOptions{Now: time.Now}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-processor")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Processor{
		queue:     queue,
		remote:    remote,
		conn:      conn,
		publisher: opts.Publisher,
		origin:    opts.Origin,
		metrics:   opts.Metrics,
		logger:    logger,
		reconnect: opts.Reconnect,
		onDrained: opts.OnDrained,
		now:       opts.Now,
		nudges:    make(chan struct{}, 1),
	}
	p.lastErr.Store("")
	return p
}

// Run ждёт триггеров (восстановление связи, новая операция, Nudge) и запускает Drain.
// Таймера повторов нет: упавшая операция ждёт следующего триггера.
func (p *Processor) Run(ctx context.Context) {
	if p.queue == nil || p.remote == nil || p.conn == nil {
		p.logger.Warn("sync processor is disabled: queue, remote or connectivity is nil")
		return
	}

	p.drainOnTrigger(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reconnect:
			p.drainOnTrigger(ctx, "reconnect")
		case <-p.queue.Changes():
			p.drainOnTrigger(ctx, "queue_change")
		case <-p.nudges:
			p.drainOnTrigger(ctx, "nudge")
		}
	}
}

// Nudge просит Run выполнить проход по очереди. Не блокирует.
func (p *Processor) Nudge() {
	select {
	case p.nudges <- struct{}{}:
	default:
	}
}

func (p *Processor) drainOnTrigger(ctx context.Context, trigger string) {
	applied, err := p.Drain(ctx)
	entry := p.logger.WithFields(log.Fields{"trigger": trigger, "applied": applied})
	switch {
	case errors.Is(err, ErrOffline):
		entry.Debug("queue drain skipped: offline")
	case err != nil:
		entry.WithError(err).Warn("queue drain stopped")
	case applied > 0:
		entry.Info("queue drained")
	}
}

// Drain воспроизводит операции с головы очереди, пока она не опустеет или очередная операция не упадёт.
// Возвращает число подтверждённых операций. Одновременно выполняется не более одного прохода.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	if !p.conn.Online() {
		p.refreshBacklogMetrics(ctx)
		return 0, ErrOffline
	}

	p.draining.Store(true)
	p.metrics.SetDraining(true)
	started := p.now()
	defer func() {
		p.draining.Store(false)
		p.metrics.SetDraining(false)
		p.metrics.ObserveDrain(p.now().Sub(started))
		p.refreshBacklogMetrics(context.WithoutCancel(ctx))
	}()

	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		op, ok, err := p.queue.PeekFirst(ctx)
		if err != nil {
			return applied, fmt.Errorf("%w: peek queue: %v", domain.ErrLocalStorageUnavailable, err)
		}
		if !ok {
			p.lastErr.Store("")
			if applied > 0 && p.onDrained != nil {
				p.onDrained(ctx)
			}
			return applied, nil
		}

		if err := p.replay(ctx, op); err != nil {
			p.lastErr.Store(err.Error())
			return applied, err
		}

		if err := p.queue.Remove(ctx, op.ID); err != nil {
			// Операция уже применена; при следующем проходе повтор идемпотентен.
			return applied, fmt.Errorf("%w: remove confirmed operation %s: %v", domain.ErrLocalStorageUnavailable, op.ID, err)
		}
		applied++
		p.publishChange(ctx, op)
	}
}

func (p *Processor) replay(ctx context.Context, op domain.PendingOperation) error {
	entry := p.logger.WithFields(log.Fields{
		"operation_id":   op.ID,
		"operation_type": op.Type,
	})

	// Запущенную удалённую запись не отменяем.
	err := Apply(context.WithoutCancel(ctx), p.remote, op)
	if err == nil {
		p.metrics.RecordReplay(string(op.Type), metrics.ResultSuccess)
		entry.Debug("pending operation confirmed")
		return nil
	}

	if IsPermanent(err) {
		p.metrics.RecordReplay(string(op.Type), metrics.ResultPermanent)
		entry.WithError(err).Error("pending operation cannot be replayed; it stays at the queue head")
		return err
	}

	p.metrics.RecordReplay(string(op.Type), metrics.ResultFailed)
	entry.WithError(err).Warn("pending operation replay failed")
	return fmt.Errorf("replay %s %s: %w", op.Type, op.ID, err)
}

func (p *Processor) publishChange(ctx context.Context, op domain.PendingOperation) {
	if p.publisher == nil {
		return
	}
	change := ChangeFor(op, p.origin, p.now())
	if err := p.publisher.PublishChange(ctx, change); err != nil {
		p.metrics.RecordChangePublished(metrics.ResultFailed)
		p.logger.WithError(err).WithField("record_id", change.RecordID).Warn("failed to publish change notification")
		return
	}
	p.metrics.RecordChangePublished(metrics.ResultSuccess)
}

// Status возвращает состояние очереди и процессора.
func (p *Processor) Status(ctx context.Context) (Status, error) {
	ops, err := p.queue.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list queue: %w", err)
	}
	status := Status{
		Draining: p.draining.Load(),
		Pending:  len(ops),
	}
	if len(ops) > 0 {
		status.OldestPending = ops[0].EnqueuedAt
	}
	if lastErr, _ := p.lastErr.Load().(string); lastErr != "" {
		status.LastError = lastErr
	}
	return status, nil
}

func (p *Processor) refreshBacklogMetrics(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	head, ok, err := p.queue.PeekFirst(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("failed to collect queue backlog stats")
		return
	}
	depth, err := p.queue.Len(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("failed to collect queue backlog stats")
		return
	}
	if !ok {
		p.metrics.SetBacklog(0, time.Time{})
		return
	}
	p.metrics.SetBacklog(depth, head.EnqueuedAt)
}
