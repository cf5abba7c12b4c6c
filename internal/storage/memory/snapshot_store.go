package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// snapshotStoreInMemory — простая in-memory реализация SnapshotStore.
type snapshotStoreInMemory struct {
	mu       sync.RWMutex
	products []domain.Product
	orders   []domain.Order
	cart     []domain.CartLine
}

// NewSnapshotStore возвращает in-memory снапшот для локальной разработки и тестов.
func NewSnapshotStore() domain.SnapshotStore {
	return &snapshotStoreInMemory{}
}

func (s *snapshotStoreInMemory) Products(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Product(nil), s.products...), nil
}

func (s *snapshotStoreInMemory) Product(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

func (s *snapshotStoreInMemory) PutProduct(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.products {
		if p.ID == product.ID {
			s.products[i] = product
			return nil
		}
	}
	s.products = append(s.products, product)
	return nil
}

func (s *snapshotStoreInMemory) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.products[:0]
	for _, p := range s.products {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.products = kept
	return nil
}

func (s *snapshotStoreInMemory) ReplaceProducts(_ context.Context, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append([]domain.Product(nil), products...)
	return nil
}

func (s *snapshotStoreInMemory) Orders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOrders(s.orders), nil
}

// Order возвращает заказ или ErrOrderNotFound, если его нет.
func (s *snapshotStoreInMemory) Order(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ID == id {
			return o.Clone(), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// PutOrder заменяет заказ или добавляет его в начало списка.
func (s *snapshotStoreInMemory) PutOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	order = order.Clone()
	for i, o := range s.orders {
		if o.ID == order.ID {
			s.orders[i] = order
			return nil
		}
	}
	s.orders = append([]domain.Order{order}, s.orders...)
	return nil
}

func (s *snapshotStoreInMemory) ReplaceOrders(_ context.Context, orders []domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = cloneOrders(orders)
	return nil
}

func (s *snapshotStoreInMemory) ClearOrders(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = nil
	return nil
}

func (s *snapshotStoreInMemory) Cart(_ context.Context) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneLines(s.cart), nil
}

func (s *snapshotStoreInMemory) SaveCart(_ context.Context, lines []domain.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = domain.CloneLines(lines)
	return nil
}

func cloneOrders(orders []domain.Order) []domain.Order {
	if orders == nil {
		return nil
	}
	out := make([]domain.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}

var _ domain.SnapshotStore = (*snapshotStoreInMemory)(nil)
