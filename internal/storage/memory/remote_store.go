package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// RemoteStore — in-memory имитация удалённого хранилища с той же семантикой строк,
// что и PostgreSQL-реализация: upsert по ключу, update без строки — не ошибка.
type RemoteStore struct {
	mu       sync.RWMutex
	orders   map[string]domain.OrderRow
	items    []domain.OrderItemRow
	products map[string]domain.Product
}

// NewRemoteStore создаёт пустое in-memory удалённое хранилище.
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		orders:   make(map[string]domain.OrderRow),
		products: make(map[string]domain.Product),
	}
}

func (r *RemoteStore) UpsertOrder(_ context.Context, order domain.OrderRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

// InsertOrderItems вставляет позиции, пропуская уже существующие ID.
// Позиция без строки заказа отклоняется целиком, как внешний ключ в PostgreSQL.
func (r *RemoteStore) InsertOrderItems(_ context.Context, items []domain.OrderItemRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if _, ok := r.orders[item.OrderID]; !ok {
			return fmt.Errorf("insert order item %s for order %s: %w", item.ID, item.OrderID, domain.ErrRemoteReferenceMissing)
		}
	}

	existing := make(map[string]struct{}, len(r.items))
	for _, item := range r.items {
		existing[item.ID] = struct{}{}
	}
	for _, item := range items {
		if _, ok := existing[item.ID]; ok {
			continue
		}
		existing[item.ID] = struct{}{}
		r.items = append(r.items, item)
	}
	return nil
}

func (r *RemoteStore) UpdateOrderTotal(_ context.Context, orderID string, totalMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row, ok := r.orders[orderID]; ok {
		row.TotalMinor = totalMinor
		r.orders[orderID] = row
	}
	return nil
}

func (r *RemoteStore) DeleteOrderItems(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = filterItems(r.items, func(item domain.OrderItemRow) bool { return item.OrderID != orderID })
	return nil
}

func (r *RemoteStore) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if row, ok := r.orders[orderID]; ok {
		row.Status = status
		r.orders[orderID] = row
	}
	return nil
}

func (r *RemoteStore) DeleteAllOrders(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[string]domain.OrderRow)
	r.items = nil
	return nil
}

// MaxOrderNumber сравнивает номера сначала по длине, затем лексикографически,
// чтобы суффикс 1000 был больше 999.
func (r *RemoteStore) MaxOrderNumber(_ context.Context, prefix string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	for _, row := range r.orders {
		if !strings.HasPrefix(row.OrderNumber, prefix) {
			continue
		}
		if len(row.OrderNumber) > len(best) || (len(row.OrderNumber) == len(best) && row.OrderNumber > best) {
			best = row.OrderNumber
		}
	}
	return best, best != "", nil
}

func (r *RemoteStore) ListOrders(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]domain.OrderRow, 0, len(r.orders))
	for _, row := range r.orders {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		items := filterItems(r.items, func(item domain.OrderItemRow) bool { return item.OrderID == row.ID })
		orders = append(orders, domain.OrderFromRows(row, items))
	}
	return orders, nil
}

func (r *RemoteStore) UpsertProduct(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
	return nil
}

func (r *RemoteStore) DeleteProduct(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
	return nil
}

func (r *RemoteStore) ListProducts(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (r *RemoteStore) Ping(_ context.Context) error {
	return nil
}

// OrderRow возвращает строку заказа как есть, включая удалённые (используется в тестах).
func (r *RemoteStore) OrderRow(id string) (domain.OrderRow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.orders[id]
	return row, ok
}

// OrderItems возвращает позиции заказа в порядке вставки (используется в тестах).
func (r *RemoteStore) OrderItems(orderID string) []domain.OrderItemRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterItems(r.items, func(item domain.OrderItemRow) bool { return item.OrderID == orderID })
}

func filterItems(items []domain.OrderItemRow, keep func(domain.OrderItemRow) bool) []domain.OrderItemRow {
	out := make([]domain.OrderItemRow, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

var _ domain.RemoteStore = (*RemoteStore)(nil)
