package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// Apply выполняет план удалённой записи для операции.
// Все планы — upsert/замена целого состояния по ключу, поэтому повтор безопасен.
// Тот же план используется и для прямой записи из фасада, и при воспроизведении очереди.
func Apply(ctx context.Context, remote domain.RemoteStore, op domain.PendingOperation) error {
	switch op.Type {
	case domain.OpCreateOrder:
		var payload domain.CreateOrderPayload
		if err := op.Decode(&payload); err != nil {
			return err
		}
		if err := remote.UpsertOrder(ctx, payload.Order); err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}
		if err := remote.InsertOrderItems(ctx, payload.Items); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil

	case domain.OpUpdateOrder:
		var payload domain.UpdateOrderPayload
		if err := op.Decode(&payload); err != nil {
			return err
		}
		if err := remote.UpdateOrderTotal(ctx, payload.OrderID, payload.TotalMinor); err != nil {
			return fmt.Errorf("update order total: %w", err)
		}
		if err := remote.DeleteOrderItems(ctx, payload.OrderID); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		if err := remote.InsertOrderItems(ctx, payload.Items); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil

	case domain.OpUpdateStatus:
		var payload domain.UpdateStatusPayload
		if err := op.Decode(&payload); err != nil {
			return err
		}
		if err := remote.UpdateOrderStatus(ctx, payload.OrderID, payload.Status); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil

	case domain.OpAddProduct, domain.OpUpdateProduct:
		var payload domain.ProductPayload
		if err := op.Decode(&payload); err != nil {
			return err
		}
		if err := remote.UpsertProduct(ctx, payload.Product); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}
		return nil

	case domain.OpDeleteProduct:
		var payload domain.DeleteProductPayload
		if err := op.Decode(&payload); err != nil {
			return err
		}
		if err := remote.DeleteProduct(ctx, payload.ProductID); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op.Type)
	}
}

// ChangeFor описывает подтверждённую операцию для уведомления других устройств.
func ChangeFor(op domain.PendingOperation, origin string, confirmedAt time.Time) domain.ChangeNotification {
	change := domain.ChangeNotification{
		Operation:   op.Type,
		Origin:      origin,
		ConfirmedAt: confirmedAt.UTC(),
	}

	switch op.Type {
	case domain.OpCreateOrder:
		var payload domain.CreateOrderPayload
		if op.Decode(&payload) == nil {
			change.RecordID = payload.Order.ID
		}
		change.Table = "orders"
	case domain.OpUpdateOrder:
		var payload domain.UpdateOrderPayload
		if op.Decode(&payload) == nil {
			change.RecordID = payload.OrderID
		}
		change.Table = "orders"
	case domain.OpUpdateStatus:
		var payload domain.UpdateStatusPayload
		if op.Decode(&payload) == nil {
			change.RecordID = payload.OrderID
		}
		change.Table = "orders"
	case domain.OpAddProduct, domain.OpUpdateProduct:
		var payload domain.ProductPayload
		if op.Decode(&payload) == nil {
			change.RecordID = payload.Product.ID
		}
		change.Table = "products"
	case domain.OpDeleteProduct:
		var payload domain.DeleteProductPayload
		if op.Decode(&payload) == nil {
			change.RecordID = payload.ProductID
		}
		change.Table = "products"
	}
	return change
}

// IsPermanent сообщает, что операцию нельзя воспроизвести никогда: повтор не поможет.
// Нарушение ссылки на удалённой стороне тоже постоянно: очередь FIFO, и строка-родитель
// уже не появится раньше этой операции.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrUnknownOperation) ||
		errors.Is(err, domain.ErrMalformedOperation) ||
		errors.Is(err, domain.ErrRemoteReferenceMissing)
}
