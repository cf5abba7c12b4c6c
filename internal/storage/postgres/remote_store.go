package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type remoteStore struct {
	store *Store
	db    *sql.DB
}

// NewRemoteStore создаёт PostgreSQL-реализацию RemoteStore.
func NewRemoteStore(store *Store) domain.RemoteStore {
	return &remoteStore{store: store, db: store.DB()}
}

func (r *remoteStore) UpsertOrder(ctx context.Context, order domain.OrderRow) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_name, total_minor, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			order_number = EXCLUDED.order_number,
			customer_name = EXCLUDED.customer_name,
			total_minor = EXCLUDED.total_minor,
			status = EXCLUDED.status
	`,
		order.ID, order.OrderNumber, order.CustomerName, order.TotalMinor, string(order.Status), createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", order.ID, err)
	}
	return nil
}

// InsertOrderItems вставляет позиции в одной транзакции; строки с существующим ID пропускаются.
func (r *remoteStore) InsertOrderItems(ctx context.Context, items []domain.OrderItemRow) error {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.InTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, product_name, product_price_minor, quantity
				) VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO NOTHING
			`,
				item.ID, item.OrderID, item.ProductID, item.ProductName, item.ProductPriceMinor, item.Qty,
			); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("insert order item %s for order %s: %w", item.ID, item.OrderID, domain.ErrRemoteReferenceMissing)
				}
				return fmt.Errorf("insert order item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

// UpdateOrderTotal обновляет сумму; отсутствие строки не считается ошибкой.
func (r *remoteStore) UpdateOrderTotal(ctx context.Context, orderID string, totalMinor int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `UPDATE orders SET total_minor = $2 WHERE id = $1`, orderID, totalMinor); err != nil {
		return fmt.Errorf("update order total %s: %w", orderID, err)
	}
	return nil
}

func (r *remoteStore) DeleteOrderItems(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order items %s: %w", orderID, err)
	}
	return nil
}

// UpdateOrderStatus обновляет статус; отсутствие строки не считается ошибкой.
func (r *remoteStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, string(status)); err != nil {
		return fmt.Errorf("update order status %s: %w", orderID, err)
	}
	return nil
}

// DeleteAllOrders жёстко удаляет заказы; позиции удаляются каскадно.
func (r *remoteStore) DeleteAllOrders(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("delete all orders: %w", err)
	}
	return nil
}

// MaxOrderNumber учитывает и удалённые заказы: их номера уже выданы.
// Сортировка по длине нужна, чтобы суффикс 1000 был больше 999.
func (r *remoteStore) MaxOrderNumber(ctx context.Context, prefix string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var number string
	err := r.db.QueryRowContext(ctx, `
		SELECT order_number
		FROM orders
		WHERE starts_with(order_number, $1)
		ORDER BY length(order_number) DESC, order_number DESC
		LIMIT 1
	`, prefix).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select max order number: %w", err)
	}
	return number, true, nil
}

// ListOrders возвращает все заказы, включая удалённые, новые первыми, вместе с позициями.
// Удалённые нужны проекции: их номера уже выданы и не должны выдаваться повторно.
func (r *remoteStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			o.id, o.order_number, o.customer_name, o.total_minor, o.status, o.created_at,
			i.id, i.product_id, i.product_name, i.product_price_minor, i.quantity
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
		ORDER BY o.created_at DESC, o.id DESC, i.created_at ASC, i.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		orders []domain.Order
		rowsOf = make(map[string][]domain.OrderItemRow)
		heads  []domain.OrderRow
	)
	for rows.Next() {
		var (
			row          domain.OrderRow
			status       string
			itemID       sql.NullString
			productID    sql.NullString
			productName  sql.NullString
			productPrice sql.NullInt64
			qty          sql.NullInt32
		)
		if err := rows.Scan(
			&row.ID, &row.OrderNumber, &row.CustomerName, &row.TotalMinor, &status, &row.CreatedAt,
			&itemID, &productID, &productName, &productPrice, &qty,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		row.Status = domain.OrderStatus(status)
		row.CreatedAt = row.CreatedAt.UTC()

		if _, seen := rowsOf[row.ID]; !seen {
			rowsOf[row.ID] = nil
			heads = append(heads, row)
		}
		if itemID.Valid {
			rowsOf[row.ID] = append(rowsOf[row.ID], domain.OrderItemRow{
				ID:                itemID.String,
				OrderID:           row.ID,
				ProductID:         productID.String,
				ProductName:       productName.String,
				ProductPriceMinor: productPrice.Int64,
				Qty:               qty.Int32,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	orders = make([]domain.Order, 0, len(heads))
	for _, head := range heads {
		orders = append(orders, domain.OrderFromRows(head, rowsOf[head.ID]))
	}
	return orders, nil
}

func (r *remoteStore) UpsertProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, category)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_minor = EXCLUDED.price_minor,
			category = EXCLUDED.category
	`, product.ID, product.Name, product.PriceMinor, product.Category)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

func (r *remoteStore) DeleteProduct(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	return nil
}

func (r *remoteStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price_minor, category
		FROM products
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Category); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *remoteStore) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ domain.RemoteStore = (*remoteStore)(nil)
