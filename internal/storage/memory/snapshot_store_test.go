package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/storage/memory"
)

func newOrder(id string) domain.Order {
	return domain.Order{
		ID:           id,
		OrderNumber:  "PH-260119001",
		CustomerName: "customer-1",
		Items: []domain.CartLine{
			{Product: domain.Product{ID: "p-1", Name: "Rice", PriceMinor: 100}, Qty: 5},
		},
		TotalMinor: 500,
		CreatedAt:  time.Now().UTC(),
		Status:     domain.OrderStatusPending,
	}
}

func TestSnapshotStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	order := newOrder("order-1")

	if err := store.PutOrder(ctx, order); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	stored, err := store.Order(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, stored.ID)
	}

	if _, err := store.Order(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSnapshotStore_PutOrderNewestFirstAndReplace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()

	_ = store.PutOrder(ctx, newOrder("order-1"))
	_ = store.PutOrder(ctx, newOrder("order-2"))

	updated := newOrder("order-1")
	updated.Status = domain.OrderStatusPacked
	if err := store.PutOrder(ctx, updated); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	orders, _ := store.Orders(ctx)
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "order-2" {
		t.Fatalf("expected newest order first, got %s", orders[0].ID)
	}
	if orders[1].Status != domain.OrderStatusPacked {
		t.Fatalf("expected replaced status packed, got %s", orders[1].Status)
	}
}

func TestSnapshotStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	_ = store.PutOrder(ctx, newOrder("order-1"))

	orders, _ := store.Orders(ctx)
	orders[0].Items[0].Qty = 42

	stored, _ := store.Order(ctx, "order-1")
	if stored.Items[0].Qty != 5 {
		t.Fatalf("snapshot was mutated through returned slice: qty=%d", stored.Items[0].Qty)
	}
}

func TestSnapshotStore_ReplaceAndClear(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	_ = store.PutOrder(ctx, newOrder("local-only"))

	if err := store.ReplaceOrders(ctx, []domain.Order{newOrder("remote-1")}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	orders, _ := store.Orders(ctx)
	if len(orders) != 1 || orders[0].ID != "remote-1" {
		t.Fatalf("expected full replace, got %+v", orders)
	}

	if err := store.ClearOrders(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	orders, _ = store.Orders(ctx)
	if len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}
}

func TestSnapshotStore_ProductsAndCart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()

	_ = store.PutProduct(ctx, domain.Product{ID: "p-1", Name: "Rice", PriceMinor: 50})
	_ = store.PutProduct(ctx, domain.Product{ID: "p-1", Name: "Rice", PriceMinor: 55})
	products, _ := store.Products(ctx)
	if len(products) != 1 || products[0].PriceMinor != 55 {
		t.Fatalf("expected upserted product, got %+v", products)
	}

	_ = store.DeleteProduct(ctx, "p-1")
	if _, err := store.Product(ctx, "p-1"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	lines := []domain.CartLine{{Product: domain.Product{ID: "p-2"}, Qty: 1}}
	if err := store.SaveCart(ctx, lines); err != nil {
		t.Fatalf("save cart failed: %v", err)
	}
	cart, _ := store.Cart(ctx)
	if len(cart) != 1 {
		t.Fatalf("expected 1 cart line, got %d", len(cart))
	}
}
