package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
	"github.com/vladislavdragonenkov/posync/internal/storage/memory"
)

type switchConn struct{ online atomic.Bool }

func (c *switchConn) Online() bool { return c.online.Load() }

func online() *switchConn {
	c := &switchConn{}
	c.online.Store(true)
	return c
}

type failingRemote struct {
	*memory.RemoteStore
}

func (failingRemote) ListOrders(context.Context) ([]domain.Order, error) {
	return nil, errors.New("connection reset by peer")
}

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func seedRemote(t *testing.T) *memory.RemoteStore {
	t.Helper()
	ctx := context.Background()
	remote := memory.NewRemoteStore()
	require.NoError(t, remote.UpsertProduct(ctx, domain.Product{ID: "p2", Name: "Chai", PriceMinor: 100}))
	require.NoError(t, remote.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Samosa", PriceMinor: 50}))

	row := domain.OrderRow{
		ID:           "o1",
		OrderNumber:  "PH-260119001",
		CustomerName: "Ann",
		TotalMinor:   100,
		Status:       domain.OrderStatusPacked,
		CreatedAt:    time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, remote.UpsertOrder(ctx, row))
	require.NoError(t, remote.InsertOrderItems(ctx, []domain.OrderItemRow{
		{ID: "i1", OrderID: "o1", ProductID: "p2", ProductName: "Chai", ProductPriceMinor: 100, Qty: 1},
	}))
	return remote
}

func TestRefresh_ReplacesProductsAndOrders(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote(t)
	snapshot := memory.NewSnapshotStore()
	require.NoError(t, snapshot.PutOrder(ctx, domain.Order{ID: "stale", OrderNumber: "PH-260118001"}))
	require.NoError(t, snapshot.SaveCart(ctx, []domain.CartLine{{Product: domain.Product{ID: "p1"}, Qty: 2}}))

	reg := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetricsWithRegisterer(reg)
	refresher := NewRefresher(remote, snapshot, memory.NewOperationQueue(), online(),
		WithLogger(loggerForTests()), WithMetrics(syncMetrics))

	require.NoError(t, refresher.Refresh(ctx))

	products, err := snapshot.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "Chai", products[0].Name)

	orders, err := snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "o1", orders[0].ID)
	require.Equal(t, domain.OrderStatusPacked, orders[0].Status)
	require.Len(t, orders[0].Items, 1)

	cart, err := snapshot.Cart(ctx)
	require.NoError(t, err)
	require.Len(t, cart, 1)

	count, err := testutil.GatherAndCount(reg, "posync_snapshot_refreshes_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRefresh_SkipsWhenOfflineOrQueueNotEmpty(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote(t)
	snapshot := memory.NewSnapshotStore()
	queue := memory.NewOperationQueue()
	conn := &switchConn{}

	refresher := NewRefresher(remote, snapshot, queue, conn, WithLogger(loggerForTests()))

	err := refresher.Refresh(ctx)
	require.ErrorIs(t, err, ErrOffline)
	require.True(t, IsSkipped(err))

	conn.online.Store(true)
	op, err := domain.NewOperation(domain.OpDeleteProduct, domain.DeleteProductPayload{ProductID: "p1"})
	require.NoError(t, err)
	_, err = queue.Append(ctx, op)
	require.NoError(t, err)

	err = refresher.Refresh(ctx)
	require.ErrorIs(t, err, ErrPendingOperations)

	products, err := snapshot.Products(ctx)
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestRefresh_RemoteFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	snapshot := memory.NewSnapshotStore()
	require.NoError(t, snapshot.ReplaceProducts(ctx, []domain.Product{{ID: "local", Name: "Local", PriceMinor: 1}}))

	refresher := NewRefresher(failingRemote{seedRemote(t)}, snapshot, nil, online(), WithLogger(loggerForTests()))

	err := refresher.Refresh(ctx)
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	require.False(t, IsSkipped(err))

	products, err := snapshot.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "local", products[0].ID)
}

func TestHandleChange_IgnoresOwnOrigin(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote(t)
	snapshot := memory.NewSnapshotStore()
	refresher := NewRefresher(remote, snapshot, nil, online(),
		WithLogger(loggerForTests()), WithOrigin("till-1"))

	require.NoError(t, refresher.HandleChange(ctx, domain.ChangeNotification{Table: "orders", RecordID: "o1", Origin: "till-1"}))
	orders, err := snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	require.NoError(t, refresher.HandleChange(ctx, domain.ChangeNotification{Table: "orders", RecordID: "o1", Origin: "till-2"}))
	orders, err = snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestHandleChange_SkippedRefreshIsNotAnError(t *testing.T) {
	refresher := NewRefresher(seedRemote(t), memory.NewSnapshotStore(), nil, &switchConn{}, WithLogger(loggerForTests()))
	require.NoError(t, refresher.HandleChange(context.Background(), domain.ChangeNotification{Origin: "till-2"}))
}

// racingRemote вызывает onRead при каждом чтении заказов: так моделируется
// локальная запись, завершившаяся, пока шло чтение удалённых данных.
type racingRemote struct {
	*memory.RemoteStore
	reads  atomic.Int32
	onRead func(read int32)
}

func (r *racingRemote) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := r.RemoteStore.ListOrders(ctx)
	r.onRead(r.reads.Add(1))
	return orders, err
}

func TestRefresh_RereadsAfterLocalWriteDuringRead(t *testing.T) {
	ctx := context.Background()
	var generation atomic.Uint64
	remote := &racingRemote{RemoteStore: seedRemote(t)}
	remote.onRead = func(read int32) {
		if read == 1 {
			generation.Add(1)
		}
	}
	snapshot := memory.NewSnapshotStore()

	refresher := NewRefresher(remote, snapshot, memory.NewOperationQueue(), online(),
		WithLogger(loggerForTests()), WithGeneration(generation.Load))

	require.NoError(t, refresher.Refresh(ctx))
	require.EqualValues(t, 2, remote.reads.Load())

	orders, err := snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestRefresh_KeepsSnapshotWhileLocalWritesContinue(t *testing.T) {
	ctx := context.Background()
	var generation atomic.Uint64
	remote := &racingRemote{RemoteStore: seedRemote(t)}
	remote.onRead = func(int32) { generation.Add(1) }

	snapshot := memory.NewSnapshotStore()
	local := domain.Order{ID: "local", OrderNumber: "PH-260119002", Status: domain.OrderStatusPending}
	require.NoError(t, snapshot.PutOrder(ctx, local))

	refresher := NewRefresher(remote, snapshot, memory.NewOperationQueue(), online(),
		WithLogger(loggerForTests()), WithGeneration(generation.Load))

	err := refresher.Refresh(ctx)
	require.ErrorIs(t, err, ErrConcurrentWrites)
	require.True(t, IsSkipped(err))
	require.EqualValues(t, maxReadAttempts, remote.reads.Load())

	orders, err := snapshot.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "local", orders[0].ID)
}

func TestRefresh_KeepsSoftDeletedOrders(t *testing.T) {
	ctx := context.Background()
	remote := seedRemote(t)
	require.NoError(t, remote.UpdateOrderStatus(ctx, "o1", domain.OrderStatusDeleted))
	snapshot := memory.NewSnapshotStore()

	refresher := NewRefresher(remote, snapshot, nil, online(), WithLogger(loggerForTests()))
	require.NoError(t, refresher.Refresh(ctx))

	order, err := snapshot.Order(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDeleted, order.Status)
}
