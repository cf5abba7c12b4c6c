package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/metrics"
	"github.com/vladislavdragonenkov/posync/internal/storage/memory"
)

type switchConn struct{ online atomic.Bool }

func (c *switchConn) Online() bool { return c.online.Load() }

func onlineConn() *switchConn {
	c := &switchConn{}
	c.online.Store(true)
	return c
}

// recordingRemote пишет журнал вызовов и может падать на заданных вызовах.
type recordingRemote struct {
	*memory.RemoteStore

	mu     sync.Mutex
	calls  []string
	failOn map[string]int
}

func newRecordingRemote() *recordingRemote {
	return &recordingRemote{RemoteStore: memory.NewRemoteStore(), failOn: map[string]int{}}
}

func (r *recordingRemote) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.failOn[call] > 0 {
		r.failOn[call]--
		return errors.New("remote timeout")
	}
	return nil
}

func (r *recordingRemote) failNext(call string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[call] = times
}

func (r *recordingRemote) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRemote) UpsertOrder(ctx context.Context, order domain.OrderRow) error {
	if err := r.record("upsert:" + order.ID); err != nil {
		return err
	}
	return r.RemoteStore.UpsertOrder(ctx, order)
}

func (r *recordingRemote) InsertOrderItems(ctx context.Context, items []domain.OrderItemRow) error {
	orderID := ""
	if len(items) > 0 {
		orderID = items[0].OrderID
	}
	if err := r.record("items:" + orderID); err != nil {
		return err
	}
	return r.RemoteStore.InsertOrderItems(ctx, items)
}

func (r *recordingRemote) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if err := r.record("status:" + orderID); err != nil {
		return err
	}
	return r.RemoteStore.UpdateOrderStatus(ctx, orderID, status)
}

type capturePublisher struct {
	mu      sync.Mutex
	changes []domain.ChangeNotification
	err     error
}

func (p *capturePublisher) PublishChange(_ context.Context, change domain.ChangeNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func createOp(t *testing.T, orderID string) domain.PendingOperation {
	t.Helper()
	order := domain.OrderRow{ID: orderID, OrderNumber: "PH-260119" + orderID, CustomerName: "c", TotalMinor: 100, Status: domain.OrderStatusPending, CreatedAt: time.Now().UTC()}
	op, err := domain.NewOperation(domain.OpCreateOrder, domain.CreateOrderPayload{
		Order: order,
		Items: []domain.OrderItemRow{{ID: "item-" + orderID, OrderID: orderID, ProductID: "p", ProductName: "Tea", ProductPriceMinor: 100, Qty: 1}},
	})
	require.NoError(t, err)
	return op
}

func enqueue(t *testing.T, queue domain.OperationQueue, ops ...domain.PendingOperation) {
	t.Helper()
	for _, op := range ops {
		_, err := queue.Append(context.Background(), op)
		require.NoError(t, err)
	}
}

func newTestProcessor(queue domain.OperationQueue, remote domain.RemoteStore, conn domain.Connectivity, options ...Option) *Processor {
	options = append([]Option{
		WithLogger(loggerForTests()),
		WithMetrics(metrics.NewSyncMetricsWithRegisterer(prometheus.NewRegistry())),
	}, options...)
	return NewProcessor(queue, remote, conn, options...)
}

func TestProcessor_DrainAppliesInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	enqueue(t, queue, createOp(t, "A"), createOp(t, "B"), createOp(t, "C"))

	applied, err := newTestProcessor(queue, remote, onlineConn()).Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, applied)

	require.Equal(t, []string{
		"upsert:A", "items:A",
		"upsert:B", "items:B",
		"upsert:C", "items:C",
	}, remote.log())

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProcessor_FailureKeepsHeadAndStops(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	remote.failNext("items:B", 1)
	a, b, c := createOp(t, "A"), createOp(t, "B"), createOp(t, "C")
	enqueue(t, queue, a, b, c)

	processor := newTestProcessor(queue, remote, onlineConn())
	applied, err := processor.Drain(ctx)
	require.Error(t, err)
	require.Equal(t, 1, applied)

	head, ok, err := queue.PeekFirst(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.ID, head.ID)
	require.NotContains(t, remote.log(), "upsert:C")

	status, err := processor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.Pending)
	require.NotEmpty(t, status.LastError)

	// Следующий триггер повторяет B целиком; повтор не дублирует позиции.
	applied, err = processor.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.Len(t, remote.OrderItems("B"), 1)

	status, err = processor.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, status.Pending)
	require.Empty(t, status.LastError)
}

func TestProcessor_OfflineLeavesQueue(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	enqueue(t, queue, createOp(t, "A"))

	applied, err := newTestProcessor(queue, remote, &switchConn{}).Drain(ctx)
	require.ErrorIs(t, err, ErrOffline)
	require.Zero(t, applied)
	require.Empty(t, remote.log())

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestProcessor_UnknownOperationIsNeverSkipped(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	bogus := domain.PendingOperation{ID: "bogus", Type: "teleport_order", Payload: json.RawMessage(`{}`), EnqueuedAt: time.Now()}
	enqueue(t, queue, bogus, createOp(t, "A"))

	processor := newTestProcessor(queue, remote, onlineConn())
	for i := 0; i < 2; i++ {
		applied, err := processor.Drain(ctx)
		require.ErrorIs(t, err, domain.ErrUnknownOperation)
		require.True(t, IsPermanent(err))
		require.Zero(t, applied)
	}

	head, ok, err := queue.PeekFirst(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bogus", head.ID)
	require.Empty(t, remote.log())
}

func TestProcessor_MalformedPayloadIsPermanent(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	enqueue(t, queue, domain.PendingOperation{ID: "bad", Type: domain.OpUpdateStatus, Payload: json.RawMessage(`{"order_id":`), EnqueuedAt: time.Now()})

	_, err := newTestProcessor(queue, newRecordingRemote(), onlineConn()).Drain(ctx)
	require.ErrorIs(t, err, domain.ErrMalformedOperation)
	require.True(t, IsPermanent(err))
}

func TestProcessor_MissingRemoteOrderIsPermanent(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	op, err := domain.NewOperation(domain.OpUpdateOrder, domain.UpdateOrderPayload{
		OrderID:    "gone",
		TotalMinor: 100,
		Items:      []domain.OrderItemRow{{ID: "item-gone", OrderID: "gone", ProductID: "p", ProductName: "Tea", ProductPriceMinor: 100, Qty: 1}},
	})
	require.NoError(t, err)
	enqueue(t, queue, op)

	reg := prometheus.NewRegistry()
	processor := newTestProcessor(queue, remote, onlineConn(),
		WithMetrics(metrics.NewSyncMetricsWithRegisterer(reg)))

	_, err = processor.Drain(ctx)
	require.ErrorIs(t, err, domain.ErrRemoteReferenceMissing)
	require.True(t, IsPermanent(err))
	require.False(t, domain.IsNotFound(err))
	require.Equal(t, 1.0, replayCount(t, reg, string(domain.OpUpdateOrder), metrics.ResultPermanent))
	require.Zero(t, replayCount(t, reg, string(domain.OpUpdateOrder), metrics.ResultFailed))

	head, ok, err := queue.PeekFirst(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, op.ID, head.ID)
}

func replayCount(t *testing.T, reg *prometheus.Registry, opType, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "posync_replay_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["result"] == result && labels["op_type"] == opType {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestProcessor_PublishesChangesAndCallsOnDrained(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewOperationQueue()
	publisher := &capturePublisher{err: errors.New("broker down")}
	var drained atomic.Int32

	enqueue(t, queue, createOp(t, "A"), createOp(t, "B"))
	processor := newTestProcessor(queue, newRecordingRemote(), onlineConn(),
		WithChangePublisher(publisher, "till-1"),
		WithOnDrained(func(context.Context) { drained.Add(1) }),
	)

	applied, err := processor.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.EqualValues(t, 1, drained.Load())

	require.Len(t, publisher.changes, 2)
	require.Equal(t, "orders", publisher.changes[0].Table)
	require.Equal(t, "A", publisher.changes[0].RecordID)
	require.Equal(t, "till-1", publisher.changes[0].Origin)

	// Пустая очередь не вызывает хук повторно.
	_, err = processor.Drain(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, drained.Load())
}

func TestProcessor_RunDrainsOnTriggers(t *testing.T) {
	queue := memory.NewOperationQueue()
	remote := newRecordingRemote()
	conn := &switchConn{}
	reconnect := make(chan struct{}, 1)

	processor := newTestProcessor(queue, remote, conn, WithReconnectSignal(reconnect))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Run(ctx)

	enqueue(t, queue, createOp(t, "A"))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, remote.log())

	conn.online.Store(true)
	reconnect <- struct{}{}
	require.Eventually(t, func() bool {
		n, _ := queue.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	enqueue(t, queue, createOp(t, "B"))
	require.Eventually(t, func() bool {
		n, _ := queue.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	remote.failNext("upsert:C", 1)
	enqueue(t, queue, createOp(t, "C"))
	require.Eventually(t, func() bool {
		for _, call := range remote.log() {
			if call == "upsert:C" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	processor.Nudge()
	require.Eventually(t, func() bool {
		n, _ := queue.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestChangeFor(t *testing.T) {
	now := time.Now()
	cases := []struct {
		opType  domain.OperationType
		payload any
		table   string
		record  string
	}{
		{domain.OpUpdateOrder, domain.UpdateOrderPayload{OrderID: "o-1"}, "orders", "o-1"},
		{domain.OpUpdateStatus, domain.UpdateStatusPayload{OrderID: "o-2"}, "orders", "o-2"},
		{domain.OpAddProduct, domain.ProductPayload{Product: domain.Product{ID: "p-1"}}, "products", "p-1"},
		{domain.OpDeleteProduct, domain.DeleteProductPayload{ProductID: "p-2"}, "products", "p-2"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.opType), func(t *testing.T) {
			op, err := domain.NewOperation(tc.opType, tc.payload)
			require.NoError(t, err)
			change := ChangeFor(op, "till", now)
			require.Equal(t, tc.table, change.Table)
			require.Equal(t, tc.record, change.RecordID)
			require.Equal(t, tc.opType, change.Operation)
		})
	}
}
