package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

func TestSnapshotStore_OrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	snapshot := NewSnapshotStore(newTestStore(t))

	orders, err := snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	require.NoError(t, snapshot.PutOrder(ctx, domain.Order{ID: "o-1", OrderNumber: "PH-260119001", Status: domain.OrderStatusPending}))
	require.NoError(t, snapshot.PutOrder(ctx, domain.Order{ID: "o-2", OrderNumber: "PH-260119002", Status: domain.OrderStatusPending}))
	require.NoError(t, snapshot.PutOrder(ctx, domain.Order{ID: "o-1", OrderNumber: "PH-260119001", Status: domain.OrderStatusPacked}))

	orders, err = snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "o-2", orders[0].ID)
	require.Equal(t, domain.OrderStatusPacked, orders[1].Status)

	_, err = snapshot.Order(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, snapshot.ClearOrders(ctx))
	orders, err = snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestSnapshotStore_ProductsAndCartPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "posync.db")

	store, err := Open(path)
	require.NoError(t, err)
	snapshot := NewSnapshotStore(store)

	tea := domain.Product{ID: "p-1", Name: "Tea", PriceMinor: 1500}
	override := int64(1200)
	require.NoError(t, snapshot.ReplaceProducts(ctx, []domain.Product{tea, {ID: "p-2", Name: "Cake", PriceMinor: 3000}}))
	require.NoError(t, snapshot.DeleteProduct(ctx, "p-2"))
	require.NoError(t, snapshot.SaveCart(ctx, []domain.CartLine{{Product: tea, Qty: 2, OverriddenPriceMinor: &override}}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	snapshot = NewSnapshotStore(reopened)

	products, err := snapshot.Products(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Product{tea}, products)

	_, err = snapshot.Product(ctx, "p-2")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	cart, err := snapshot.Cart(ctx)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	require.Equal(t, int64(2400), cart[0].TotalMinor())
}

func TestSnapshotStore_SessionCache(t *testing.T) {
	ctx := context.Background()
	snapshot := NewSnapshotStore(newTestStore(t))

	_, ok, err := snapshot.LoadSession(ctx, domain.SessionOwner)
	require.NoError(t, err)
	require.False(t, ok)

	session := domain.Session{Token: "tok", Type: domain.SessionOwner, ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, snapshot.SaveSession(ctx, session))

	got, ok, err := snapshot.LoadSession(ctx, domain.SessionOwner)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.Token, got.Token)
	require.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, snapshot.DropSession(ctx, domain.SessionOwner))
	_, ok, err = snapshot.LoadSession(ctx, domain.SessionOwner)
	require.NoError(t, err)
	require.False(t, ok)
}
