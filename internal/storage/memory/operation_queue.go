package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// operationQueueInMemory — in-memory реализация очереди отложенных операций.
// Не переживает рестарт, поэтому используется в тестах и в dev-режиме.
type operationQueueInMemory struct {
	mu      sync.Mutex
	ops     []domain.PendingOperation
	changes chan struct{}
}

// NewOperationQueue создаёт in-memory очередь.
func NewOperationQueue() domain.OperationQueue {
	return &operationQueueInMemory{changes: make(chan struct{}, 1)}
}

// Append добавляет операцию в конец очереди.
func (q *operationQueueInMemory) Append(_ context.Context, op domain.PendingOperation) (string, error) {
	q.mu.Lock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	select {
	case q.changes <- struct{}{}:
	default:
	}
	return op.ID, nil
}

// Remove удаляет операцию по идентификатору.
func (q *operationQueueInMemory) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i:i], q.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

// PeekFirst возвращает голову очереди.
func (q *operationQueueInMemory) PeekFirst(_ context.Context) (domain.PendingOperation, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return domain.PendingOperation{}, false, nil
	}
	return q.ops[0], true, nil
}

// List возвращает копию всех операций в порядке постановки.
func (q *operationQueueInMemory) List(_ context.Context) ([]domain.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]domain.PendingOperation(nil), q.ops...), nil
}

// Len возвращает длину очереди.
func (q *operationQueueInMemory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), nil
}

// Changes сигнализирует о новых операциях.
func (q *operationQueueInMemory) Changes() <-chan struct{} {
	return q.changes
}

var _ domain.OperationQueue = (*operationQueueInMemory)(nil)
