package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/billnumber"
	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/service/billing"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
	"github.com/vladislavdragonenkov/posync/internal/service/session"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
	"github.com/vladislavdragonenkov/posync/internal/storage/memory"
)

type switchConn struct{ online atomic.Bool }

func (c *switchConn) Online() bool { return c.online.Load() }

type pinIssuer struct{}

func (pinIssuer) Issue(_ context.Context, pin string, sessionType domain.SessionType) (domain.Session, error) {
	if pin != "4321" {
		return domain.Session{}, domain.ErrInvalidPIN
	}
	return domain.Session{Token: "tok", Type: sessionType, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type testEnv struct {
	handler http.Handler
	remote  *memory.RemoteStore
	conn    *switchConn
}

func newTestEnv(t *testing.T, withSessions bool) *testEnv {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := log.NewEntry(logger)

	snapshot := memory.NewSnapshotStore()
	queue := memory.NewOperationQueue()
	remote := memory.NewRemoteStore()
	conn := &switchConn{}
	conn.online.Store(true)

	bills := billnumber.NewAllocator(snapshot, remote, conn, billnumber.WithLogger(entry))
	svc := billing.NewService(snapshot, queue, remote, conn, bills, billing.WithLogger(entry))
	processor := syncer.NewProcessor(queue, remote, conn, syncer.WithLogger(entry))
	refresher := refresh.NewRefresher(remote, snapshot, queue, conn, refresh.WithLogger(entry), refresh.WithLocker(svc.Locker()), refresh.WithGeneration(svc.Generation))

	options := []Option{WithLogger(entry)}
	if withSessions {
		guard := session.NewGuard(memory.NewSessionCache(), pinIssuer{}, nil, conn, session.WithLogger(entry))
		options = append(options, WithSessions(guard))
	}
	server := NewServer(svc, processor, refresher, options...)
	return &testEnv{handler: server.Handler(), remote: remote, conn: conn}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	var product domain.Product
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/products",
		map[string]any{"name": "Samosa", "price_minor": 50, "category": "snacks"}, &product))
	require.NotEmpty(t, product.ID)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/orders",
		map[string]any{"customer_name": "Ann"}, nil))

	var cart billing.CartSummary
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/cart/items",
		map[string]any{"product_id": product.ID}, &cart))
	require.Equal(t, int64(50), cart.TotalMinor)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/cart/items/"+product.ID,
		map[string]any{"quantity": 3, "price_minor": 40}, &cart))
	require.Equal(t, int64(120), cart.TotalMinor)

	var order domain.Order
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/orders",
		map[string]any{"customer_name": "Ann"}, &order))
	require.Equal(t, int64(120), order.TotalMinor)
	require.Equal(t, domain.OrderStatusPending, order.Status)

	row, ok := env.remote.OrderRow(order.ID)
	require.True(t, ok)
	require.Equal(t, order.OrderNumber, row.OrderNumber)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/api/orders/"+order.ID+"/status",
		map[string]any{"status": "billed"}, nil))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/orders/"+order.ID+"/status",
		map[string]any{"status": "packed"}, &order))
	require.Equal(t, domain.OrderStatusPacked, order.Status)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/orders/"+order.ID, map[string]any{
		"items":       []domain.CartLine{{Product: product, Qty: 2}},
		"total_minor": 100,
	}, &order))
	require.Equal(t, int64(100), order.TotalMinor)

	var orders []domain.Order
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/orders?status=packed", nil, &orders))
	require.Len(t, orders, 1)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/orders?status=lost", nil, nil))

	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/orders/"+order.ID, nil, &order))
	require.Equal(t, domain.OrderStatusDeleted, order.Status)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/orders/missing", nil, nil))
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, false)
	var resp errorResponse
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/orders", `{"customer_name":`, &resp))
	require.NotEmpty(t, resp.Error)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/orders", `{"unexpected":1}`, nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, "/api/cart/items/x", `{}`, nil))
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	var status syncer.Status
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/sync/status", nil, &status))
	require.Zero(t, status.Pending)

	var drained drainResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/sync/drain", nil, &drained))
	require.Zero(t, drained.Applied)

	require.NoError(t, env.remote.UpsertProduct(context.Background(), domain.Product{ID: "p1", Name: "Chai", PriceMinor: 100}))
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/sync/refresh", nil, nil))
	var products []domain.Product
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/products", nil, &products))
	require.Len(t, products, 1)

	env.conn.online.Store(false)
	require.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/sync/drain", nil, nil))
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/sync/refresh", nil, nil))
}

func TestSessionProtectedRoutes(t *testing.T) {
	env := newTestEnv(t, true)

	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/summary", nil, nil))
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/orders/reset", nil, nil))

	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/sessions",
		map[string]any{"pin": "0000", "type": "history_summary"}, nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/sessions",
		map[string]any{"pin": "4321", "type": "cashier"}, nil))

	var issued domain.Session
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/sessions",
		map[string]any{"pin": "4321", "type": "history_summary"}, &issued))
	require.Equal(t, domain.SessionHistorySummary, issued.Type)

	var check checkResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/sessions/history_summary", nil, &check))
	require.True(t, check.Valid)

	var summary billing.SalesSummary
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/summary?date=2026-01-19", nil, &summary))
	require.Zero(t, summary.Orders)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/summary?date=19.01.2026", nil, nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet,
		"/api/summary?from=2026-01-20T00:00:00Z&to=2026-01-19T00:00:00Z", nil, nil))

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/sessions/history_summary", nil, nil))
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/summary", nil, nil))

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/sessions",
		map[string]any{"pin": "4321", "type": "owner"}, nil))
	var reset resetResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/orders/reset", nil, &reset))
	require.True(t, reset.RemoteConfirmed)
}
