package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
)

// Orders — операции фасада, доступные через gRPC.
type Orders interface {
	Orders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	CreateOrder(ctx context.Context, customerName string) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error)
}

// Sync — управление очередью синхронизации.
type Sync interface {
	Status(ctx context.Context) (syncer.Status, error)
	Drain(ctx context.Context) (int, error)
}

// Refresher — принудительное обновление снапшота.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// SyncService реализует posync.v1.SyncService поверх фасада и процессора очереди.
type SyncService struct {
	orders    Orders
	sync      Sync
	queue     domain.OperationQueue
	refresher Refresher
	logger    *log.Entry
}

// NewSyncService конструирует сервис с зависимостями.
func NewSyncService(orders Orders, sync Sync, queue domain.OperationQueue, refresher Refresher, logger *log.Entry) *SyncService {
	if logger == nil {
		logger = log.New().WithField("component", "sync-grpc-service")
	}
	return &SyncService{
		orders:    orders,
		sync:      sync,
		queue:     queue,
		refresher: refresher,
		logger:    logger,
	}
}

// GetStatus возвращает состояние очереди синхронизации.
func (s *SyncService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.sync.Status(ctx)
	if err != nil {
		return nil, s.toStatus(err, "failed to read sync status")
	}
	return toStruct(st)
}

// Drain запускает проход по очереди и возвращает число применённых операций.
func (s *SyncService) Drain(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	applied, err := s.sync.Drain(ctx)
	if err != nil {
		return nil, s.toStatus(err, "failed to drain queue")
	}
	return toStruct(map[string]any{"applied": applied})
}

// ListPendingOperations возвращает операции очереди в порядке постановки.
func (s *SyncService) ListPendingOperations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ops, err := s.queue.List(ctx)
	if err != nil {
		return nil, s.toStatus(err, "failed to list pending operations")
	}
	if ops == nil {
		ops = []domain.PendingOperation{}
	}
	return toStruct(map[string]any{"operations": ops})
}

// Refresh принудительно обновляет снапшот из удалённого хранилища.
func (s *SyncService) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.refresher.Refresh(ctx); err != nil {
		return nil, s.toStatus(err, "failed to refresh snapshot")
	}
	return &structpb.Struct{}, nil
}

// ListOrders возвращает заказы из снапшота; поле status фильтрует по статусу.
func (s *SyncService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := domain.OrderStatus(stringField(req, "status"))
	if filter != "" && !filter.Valid() {
		return nil, status.Error(codes.InvalidArgument, domain.ErrInvalidStatus.Error())
	}
	orders, err := s.orders.Orders(ctx, filter)
	if err != nil {
		return nil, s.toStatus(err, "failed to list orders")
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return toStruct(map[string]any{"orders": orders})
}

// CreateOrder оформляет заказ из текущей корзины.
func (s *SyncService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := s.orders.CreateOrder(ctx, stringField(req, "customer_name"))
	if err != nil {
		return nil, s.toStatus(err, "failed to create order")
	}
	return toStruct(order)
}

// UpdateOrderStatus меняет статус заказа.
func (s *SyncService) UpdateOrderStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID := stringField(req, "order_id")
	if orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatus(stringField(req, "status")))
	if err != nil {
		return nil, s.toStatus(err, "failed to update order status")
	}
	return toStruct(order)
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *SyncService) toStatus(err error, internalMsg string) error {
	switch {
	case domain.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case refresh.IsSkipped(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, syncer.ErrOffline), errors.Is(err, domain.ErrRemoteUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.WithError(err).Error(internalMsg)
		return status.Error(codes.Internal, internalMsg)
	}
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

// toStruct переводит значение в Struct через его JSON-представление.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// FromStruct разбирает ответ сервиса в v через JSON.
func FromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

var _ SyncServiceServer = (*SyncService)(nil)
