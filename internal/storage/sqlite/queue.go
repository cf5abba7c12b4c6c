package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// OperationQueue — durable FIFO-очередь операций в таблице pending_operations.
type OperationQueue struct {
	db      *sql.DB
	changes chan struct{}
}

// NewOperationQueue создаёт очередь поверх открытой локальной базы.
func NewOperationQueue(store *Store) *OperationQueue {
	return &OperationQueue{
		db:      store.db,
		changes: make(chan struct{}, 1),
	}
}

// Append сохраняет операцию в конец очереди. Запись зафиксирована до возврата.
func (q *OperationQueue) Append(ctx context.Context, op domain.PendingOperation) (string, error) {
	if op.ID == "" {
		return "", fmt.Errorf("append operation: empty id")
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO pending_operations (id, type, payload, enqueued_at)
		VALUES (?, ?, ?, ?)`
	if _, err := q.db.ExecContext(ctx, query,
		op.ID, string(op.Type), string(op.Payload), op.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return "", fmt.Errorf("append operation %s: %w", op.ID, err)
	}

	q.notify()
	return op.ID, nil
}

// Remove удаляет подтверждённую операцию; отсутствие строки не ошибка.
func (q *OperationQueue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove operation %s: %w", id, err)
	}
	return nil
}

// PeekFirst возвращает самую раннюю операцию.
func (q *OperationQueue) PeekFirst(ctx context.Context) (domain.PendingOperation, bool, error) {
	const query = `
		SELECT id, type, payload, enqueued_at
		FROM pending_operations
		ORDER BY seq
		LIMIT 1`

	op, err := scanOperation(q.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOperation{}, false, nil
	}
	if err != nil {
		return domain.PendingOperation{}, false, fmt.Errorf("peek operation: %w", err)
	}
	return op, true, nil
}

// List возвращает все операции в порядке постановки.
func (q *OperationQueue) List(ctx context.Context) ([]domain.PendingOperation, error) {
	const query = `
		SELECT id, type, payload, enqueued_at
		FROM pending_operations
		ORDER BY seq`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []domain.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// Len возвращает число операций в очереди.
func (q *OperationQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

// Clear удаляет все операции. Только для операторских инструментов:
// неподтверждённые мутации будут потеряны.
func (q *OperationQueue) Clear(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pending_operations`)
	if err != nil {
		return 0, fmt.Errorf("clear operations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Changes сигнализирует о новых операциях. Сигналы схлопываются.
func (q *OperationQueue) Changes() <-chan struct{} {
	return q.changes
}

func (q *OperationQueue) notify() {
	select {
	case q.changes <- struct{}{}:
	default:
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (domain.PendingOperation, error) {
	var (
		op         domain.PendingOperation
		opType     string
		payload    string
		enqueuedAt string
	)
	if err := row.Scan(&op.ID, &opType, &payload, &enqueuedAt); err != nil {
		return domain.PendingOperation{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return domain.PendingOperation{}, fmt.Errorf("parse enqueued_at %q: %w", enqueuedAt, err)
	}
	op.Type = domain.OperationType(opType)
	op.Payload = []byte(payload)
	op.EnqueuedAt = ts
	return op, nil
}

var _ domain.OperationQueue = (*OperationQueue)(nil)
