package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/billnumber"
	"github.com/vladislavdragonenkov/posync/internal/connectivity"
	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
	"github.com/vladislavdragonenkov/posync/internal/service/billing"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
	"github.com/vladislavdragonenkov/posync/internal/service/session"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
	"github.com/vladislavdragonenkov/posync/internal/storage/memory"
	"github.com/vladislavdragonenkov/posync/internal/storage/postgres"
	"github.com/vladislavdragonenkov/posync/internal/storage/sqlite"
)

const startupMigrateTimeout = 30 * time.Second

// Dependencies содержит собранный граф компонентов кассы.
type Dependencies struct {
	Config   Config
	Logger   *log.Entry
	Location *time.Location

	Local    *sqlite.Store
	Queue    *sqlite.OperationQueue
	Snapshot *sqlite.SnapshotStore
	Remote   domain.RemoteStore
	Postgres *postgres.Store

	Metrics  *metrics.SyncMetrics
	Monitor  *connectivity.Monitor
	Prober   *connectivity.Prober
	Producer *kafka.Producer

	Billing   *billing.Service
	Refresher *refresh.Refresher
	Processor *syncer.Processor
	// Sessions == nil, если удалённое хранилище не умеет выдавать сессии.
	Sessions *session.Guard
	// SessionCleanup == nil вместе с Sessions.
	SessionCleanup *session.CleanupWorker
}

// NewDependencies открывает хранилища и связывает компоненты.
// Недоступность удалённого хранилища или Kafka не мешает запуску.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry, registerer prometheus.Registerer) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Config: cfg, Logger: logger, Location: loc}

	deps.Local, err = sqlite.Open(cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLocalStorageUnavailable, err)
	}
	deps.Queue = sqlite.NewOperationQueue(deps.Local)
	deps.Snapshot = sqlite.NewSnapshotStore(deps.Local)

	if err := deps.initRemote(ctx); err != nil {
		deps.Close()
		return nil, err
	}

	deps.Metrics = metrics.NewSyncMetricsWithRegisterer(registerer)
	deps.Monitor = connectivity.NewMonitor(false, deps.Metrics)
	deps.Prober = connectivity.NewProber(deps.Monitor, deps.Remote,
		connectivity.WithLogger(logger.WithField("component", "connectivity-prober")),
		connectivity.WithInterval(cfg.ProbeInterval),
		connectivity.WithTimeout(cfg.ProbeTimeout),
	)

	deps.Producer, _ = initKafkaProducer(cfg.KafkaBrokers, cfg.DeviceID, logger)
	var publisher domain.ChangePublisher
	if deps.Producer != nil {
		publisher = kafka.NewChangePublisher(deps.Producer, cfg.KafkaTopic)
	}

	allocator := billnumber.NewAllocator(deps.Snapshot, deps.Remote, deps.Monitor,
		billnumber.WithPrefix(cfg.BillPrefix),
		billnumber.WithLocation(loc),
		billnumber.WithLogger(logger.WithField("component", "bill-number-allocator")),
	)

	billingOpts := []billing.Option{
		billing.WithLogger(logger.WithField("component", "billing-service")),
		billing.WithMetrics(deps.Metrics),
	}
	if publisher != nil {
		billingOpts = append(billingOpts, billing.WithChangePublisher(publisher, cfg.DeviceID))
	}
	deps.Billing = billing.NewService(deps.Snapshot, deps.Queue, deps.Remote, deps.Monitor, allocator, billingOpts...)

	deps.Refresher = refresh.NewRefresher(deps.Remote, deps.Snapshot, deps.Queue, deps.Monitor,
		refresh.WithLogger(logger.WithField("component", "snapshot-refresher")),
		refresh.WithMetrics(deps.Metrics),
		refresh.WithLocker(deps.Billing.Locker()),
		refresh.WithGeneration(deps.Billing.Generation),
		refresh.WithOrigin(cfg.DeviceID),
	)

	processorOpts := []syncer.Option{
		syncer.WithLogger(logger.WithField("component", "sync-processor")),
		syncer.WithMetrics(deps.Metrics),
		syncer.WithReconnectSignal(deps.Monitor.Subscribe()),
		syncer.WithOnDrained(deps.refreshAfterDrain),
	}
	if publisher != nil {
		processorOpts = append(processorOpts, syncer.WithChangePublisher(publisher, cfg.DeviceID))
	}
	deps.Processor = syncer.NewProcessor(deps.Queue, deps.Remote, deps.Monitor, processorOpts...)

	if deps.Postgres != nil {
		sessions := postgres.NewSessionRepository(deps.Postgres)
		deps.Sessions = session.NewGuard(deps.Snapshot, sessions, sessions, deps.Monitor,
			session.WithLogger(logger.WithField("component", "session-guard")),
		)
		deps.SessionCleanup = session.NewCleanupWorker(sessions,
			session.WithCleanupLogger(logger.WithField("component", "session-cleanup-worker")),
			session.WithCleanupMetrics(deps.Metrics),
			session.WithCleanupConnectivity(deps.Monitor),
		)
	}

	return deps, nil
}

func (d *Dependencies) initRemote(ctx context.Context) error {
	switch d.Config.RemoteDriver {
	case RemoteDriverMemory:
		d.Remote = memory.NewRemoteStore()
		d.Logger.Warn("remote store is in-memory: data is lost on restart")
		return nil
	case RemoteDriverPostgres:
		store, err := postgres.Connect(d.Config.PostgresDSN, postgres.WithPingTimeout(d.Config.ProbeTimeout))
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		d.Postgres = store
		d.Remote = postgres.NewRemoteStore(store)
		if d.Config.PostgresAutoMigrate {
			d.migrate(ctx)
		}
		return nil
	default:
		return fmt.Errorf("unsupported remote driver %q", d.Config.RemoteDriver)
	}
}

// migrate применяет миграции, если база доступна. Без сети касса стартует на старой схеме.
func (d *Dependencies) migrate(ctx context.Context) {
	migrateCtx, cancel := context.WithTimeout(ctx, startupMigrateTimeout)
	defer cancel()

	entry := d.Logger.WithField("component", "postgres-migrator")
	if err := d.Postgres.Ping(migrateCtx); err != nil {
		entry.WithError(err).Warn("postgres is unreachable, skipping startup migrations")
		return
	}
	if err := d.Postgres.MigrateUp(migrateCtx, 0); err != nil {
		entry.WithError(err).Error("startup migrations failed")
		return
	}
	version, count, err := d.Postgres.MigrationStatus(migrateCtx)
	if err != nil {
		entry.WithError(err).Warn("failed to read migration status")
		return
	}
	entry.WithFields(log.Fields{"version": version, "applied": count}).Info("postgres schema is up to date")
}

func (d *Dependencies) refreshAfterDrain(ctx context.Context) {
	if err := d.Refresher.Refresh(ctx); err != nil && !refresh.IsSkipped(err) {
		d.Logger.WithError(err).Warn("snapshot refresh after drain failed")
	}
}

// Backlog сообщает размер очереди и время постановки её головы.
func (d *Dependencies) Backlog(ctx context.Context) (int, time.Time, error) {
	status, err := d.Processor.Status(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	return status.Pending, status.OldestPending, nil
}

// Close освобождает хранилища и Kafka producer.
func (d *Dependencies) Close() error {
	var errs []error
	closeKafka(d.Producer, d.Logger)
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	if d.Local != nil {
		if err := d.Local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local store: %w", err))
		}
	}
	return errors.Join(errs...)
}
