package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// Стабильные ключи снапшота в snapshot_entries.
const (
	keyProducts = "snapshot.products"
	keyOrders   = "snapshot.orders"
	keyCart     = "snapshot.cart"
	// sessionKeyPrefix + тип сессии.
	sessionKeyPrefix = "session."
)

// SnapshotStore хранит проекцию каталога, заказов и корзины как JSON под стабильными ключами.
// Каждая мутация — read-modify-write одного ключа под мьютексом.
type SnapshotStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSnapshotStore создаёт снапшот поверх открытой локальной базы.
func NewSnapshotStore(store *Store) *SnapshotStore {
	return &SnapshotStore{db: store.db}
}

func (s *SnapshotStore) Products(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := s.load(ctx, keyProducts, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *SnapshotStore) Product(ctx context.Context, id string) (domain.Product, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

func (s *SnapshotStore) PutProduct(ctx context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var products []domain.Product
	if err := s.load(ctx, keyProducts, &products); err != nil {
		return err
	}
	replaced := false
	for i := range products {
		if products[i].ID == product.ID {
			products[i] = product
			replaced = true
			break
		}
	}
	if !replaced {
		products = append(products, product)
	}
	return s.store(ctx, keyProducts, products)
}

func (s *SnapshotStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var products []domain.Product
	if err := s.load(ctx, keyProducts, &products); err != nil {
		return err
	}
	kept := products[:0]
	for _, p := range products {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return s.store(ctx, keyProducts, kept)
}

func (s *SnapshotStore) ReplaceProducts(ctx context.Context, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, keyProducts, products)
}

func (s *SnapshotStore) Orders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := s.load(ctx, keyOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SnapshotStore) Order(ctx context.Context, id string) (domain.Order, error) {
	orders, err := s.Orders(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	for _, o := range orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// PutOrder заменяет заказ с тем же ID, новый заказ добавляется в начало.
func (s *SnapshotStore) PutOrder(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []domain.Order
	if err := s.load(ctx, keyOrders, &orders); err != nil {
		return err
	}
	for i := range orders {
		if orders[i].ID == order.ID {
			orders[i] = order
			return s.store(ctx, keyOrders, orders)
		}
	}
	orders = append([]domain.Order{order}, orders...)
	return s.store(ctx, keyOrders, orders)
}

func (s *SnapshotStore) ReplaceOrders(ctx context.Context, orders []domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, keyOrders, orders)
}

func (s *SnapshotStore) ClearOrders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, keyOrders, []domain.Order{})
}

func (s *SnapshotStore) Cart(ctx context.Context) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	if err := s.load(ctx, keyCart, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *SnapshotStore) SaveCart(ctx context.Context, lines []domain.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return s.store(ctx, keyCart, lines)
}

// LoadSession читает сессию из кэша; ok=false, если её нет.
func (s *SnapshotStore) LoadSession(ctx context.Context, sessionType domain.SessionType) (domain.Session, bool, error) {
	var session domain.Session
	found, err := s.loadRaw(ctx, sessionKeyPrefix+string(sessionType), &session)
	if err != nil || !found {
		return domain.Session{}, false, err
	}
	return session, true, nil
}

func (s *SnapshotStore) SaveSession(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, sessionKeyPrefix+string(session.Type), session)
}

func (s *SnapshotStore) DropSession(ctx context.Context, sessionType domain.SessionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_entries WHERE key = ?`, sessionKeyPrefix+string(sessionType)); err != nil {
		return fmt.Errorf("drop session %s: %w", sessionType, err)
	}
	return nil
}

func (s *SnapshotStore) load(ctx context.Context, key string, dst any) error {
	_, err := s.loadRaw(ctx, key, dst)
	return err
}

func (s *SnapshotStore) loadRaw(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM snapshot_entries WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SnapshotStore) store(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	const query = `
		INSERT INTO snapshot_entries (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, string(raw), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

var (
	_ domain.SnapshotStore = (*SnapshotStore)(nil)
	_ domain.SessionCache  = (*SnapshotStore)(nil)
)
