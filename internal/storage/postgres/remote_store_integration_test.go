package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

func TestRemoteStore_PostgresOrderLifecycle(t *testing.T) {
	store := integrationStore(t)
	remote := NewRemoteStore(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	older := domain.OrderRow{ID: "order-1", OrderNumber: "PH-260119001", CustomerName: "Ann", TotalMinor: 3000, Status: domain.OrderStatusPending, CreatedAt: now.Add(-time.Minute)}
	newer := domain.OrderRow{ID: "order-2", OrderNumber: "PH-260119002", CustomerName: "Bob", TotalMinor: 1500, Status: domain.OrderStatusPending, CreatedAt: now}

	items := []domain.OrderItemRow{
		{ID: "item-1", OrderID: older.ID, ProductID: "p-1", ProductName: "Tea", ProductPriceMinor: 1500, Qty: 2},
	}

	require.NoError(t, remote.UpsertOrder(ctx, older))
	require.NoError(t, remote.InsertOrderItems(ctx, items))
	// Повтор create_order после частичного успеха не дублирует позиции.
	require.NoError(t, remote.UpsertOrder(ctx, older))
	require.NoError(t, remote.InsertOrderItems(ctx, items))
	require.NoError(t, remote.UpsertOrder(ctx, newer))
	require.NoError(t, remote.InsertOrderItems(ctx, []domain.OrderItemRow{
		{ID: "item-2", OrderID: newer.ID, ProductID: "p-1", ProductName: "Tea", ProductPriceMinor: 1500, Qty: 1},
	}))

	orders, err := remote.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, newer.ID, orders[0].ID)
	require.Equal(t, older.ID, orders[1].ID)
	require.Len(t, orders[1].Items, 1)
	require.EqualValues(t, 2, orders[1].Items[0].Qty)

	require.NoError(t, remote.UpdateOrderTotal(ctx, older.ID, 4500))
	require.NoError(t, remote.DeleteOrderItems(ctx, older.ID))
	require.NoError(t, remote.InsertOrderItems(ctx, []domain.OrderItemRow{
		{ID: "item-3", OrderID: older.ID, ProductID: "p-1", ProductName: "Tea", ProductPriceMinor: 1500, Qty: 3},
	}))
	require.NoError(t, remote.UpdateOrderStatus(ctx, newer.ID, domain.OrderStatusDeleted))
	require.NoError(t, remote.UpdateOrderStatus(ctx, "missing", domain.OrderStatusPacked))

	orders, err = remote.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, domain.OrderStatusDeleted, orders[0].Status)
	require.Equal(t, int64(4500), orders[1].TotalMinor)
	require.Equal(t, int64(4500), domain.LinesTotal(orders[1].Items))

	maxNumber, ok, err := remote.MaxOrderNumber(ctx, "PH-260119")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "PH-260119002", maxNumber)

	require.NoError(t, remote.DeleteAllOrders(ctx))
	orders, err = remote.ListOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)
	_, ok, err = remote.MaxOrderNumber(ctx, "PH-260119")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoteStore_PostgresMaxOrderNumberPastThreeDigits(t *testing.T) {
	store := integrationStore(t)
	remote := NewRemoteStore(store)
	ctx := context.Background()

	for i, number := range []string{"PH-260119999", "PH-2601191000", "PH-260118777"} {
		require.NoError(t, remote.UpsertOrder(ctx, domain.OrderRow{
			ID: number, OrderNumber: number, CustomerName: "c", Status: domain.OrderStatusPending,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	maxNumber, ok, err := remote.MaxOrderNumber(ctx, "PH-260119")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "PH-2601191000", maxNumber)
}

func TestRemoteStore_PostgresProducts(t *testing.T) {
	store := integrationStore(t)
	remote := NewRemoteStore(store)
	ctx := context.Background()

	require.NoError(t, remote.UpsertProduct(ctx, domain.Product{ID: "p-2", Name: "Tea", PriceMinor: 1500, Category: "drinks"}))
	require.NoError(t, remote.UpsertProduct(ctx, domain.Product{ID: "p-1", Name: "Cake", PriceMinor: 3000}))
	require.NoError(t, remote.UpsertProduct(ctx, domain.Product{ID: "p-2", Name: "Tea", PriceMinor: 1700, Category: "drinks"}))

	products, err := remote.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "Cake", products[0].Name)
	require.Equal(t, int64(1700), products[1].PriceMinor)

	require.NoError(t, remote.DeleteProduct(ctx, "p-1"))
	require.NoError(t, remote.DeleteProduct(ctx, "p-1"))
	products, err = remote.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.NoError(t, remote.Ping(ctx))
}

func TestRemoteStore_PostgresItemsWithoutOrder(t *testing.T) {
	store := integrationStore(t)
	remote := NewRemoteStore(store)
	ctx := context.Background()

	err := remote.InsertOrderItems(ctx, []domain.OrderItemRow{
		{ID: "item-ghost", OrderID: "ghost", ProductID: "p-1", ProductName: "Tea", ProductPriceMinor: 100, Qty: 1},
	})
	require.ErrorIs(t, err, domain.ErrRemoteReferenceMissing)
	require.False(t, domain.IsNotFound(err))
}

func TestPgErrorClassifiers(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("plain error")))

	require.True(t, isForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
}
