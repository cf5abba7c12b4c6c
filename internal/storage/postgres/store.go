package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultPingTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Store держит пул соединений кассы с центральной базой.
// Пул маленький: одна касса редко шлёт больше пары запросов одновременно.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Option настраивает Store.
type Option func(*Store)

// WithMaxOpenConns ограничивает пул; idle-соединений не больше половины.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n <= 0 {
			return
		}
		s.db.SetMaxOpenConns(n)
		s.db.SetMaxIdleConns(max(1, n/2))
	}
}

// WithPingTimeout задаёт таймаут проверки доступности сервера.
func WithPingTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.pingTimeout = timeout
		}
	}
}

// Open подключается и сразу проверяет, что сервер отвечает. Для CLI и migrate.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	store, err := Connect(dsn, options...)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("postgres is unreachable: %w", err)
	}
	return store, nil
}

// Connect готовит пул, не обращаясь к серверу: касса стартует и без сети,
// а доступность дальше отслеживает prober.
func Connect(dsn string, options ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	store := &Store{db: db, pingTimeout: defaultPingTimeout}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется prober'ом как проверка связи с сервером.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// InTx выполняет fn в транзакции. Ошибка fn или отмена ctx откатывают её.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
