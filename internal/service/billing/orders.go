package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
)

// changeResetAll — тип уведомления о полном сбросе заказов.
const changeResetAll domain.OperationType = "reset_all"

// CreateOrder оформляет заказ из текущей корзины и очищает её.
// Пустая корзина или пустое имя отклоняются без каких-либо изменений.
func (s *Service) CreateOrder(ctx context.Context, customerName string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, err := s.snapshot.Cart(ctx)
	if err != nil {
		return domain.Order{}, fatal("read cart", err)
	}
	if len(cart) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}
	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return domain.Order{}, domain.ErrCustomerNameRequired
	}

	number, err := s.bills.Generate(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:           uuid.NewString(),
		OrderNumber:  number,
		CustomerName: customerName,
		Items:        domain.CloneLines(cart),
		TotalMinor:   domain.LinesTotal(cart),
		CreatedAt:    s.now().UTC(),
		Status:       domain.OrderStatusPending,
	}
	if err := validationErr(order.ValidateInvariants()); err != nil {
		return domain.Order{}, err
	}

	op, err := domain.NewOperation(domain.OpCreateOrder, domain.CreateOrderPayload{
		Order: order.Row(),
		Items: domain.NewItemRows(order.ID, order.Items),
	})
	if err != nil {
		return domain.Order{}, err
	}

	undo := func(ctx context.Context) error {
		return errors.Join(s.dropOrder(ctx, order.ID), s.snapshot.SaveCart(ctx, cart))
	}
	if err := s.snapshot.PutOrder(ctx, order); err != nil {
		return domain.Order{}, fatal("store order", err)
	}
	if err := s.snapshot.SaveCart(ctx, nil); err != nil {
		return domain.Order{}, s.rollback(ctx, op, fatal("clear cart", err), undo)
	}
	if err := s.commit(ctx, op, undo); err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total_minor":  order.TotalMinor,
	}).Info("order created")
	return order.Clone(), nil
}

// UpdateOrder полностью заменяет позиции и сумму заказа. Статус не меняется.
// Сумма должна совпадать с суммой позиций.
func (s *Service) UpdateOrder(ctx context.Context, orderID string, items []domain.CartLine, totalMinor int64) (domain.Order, error) {
	if err := validateLines(items, totalMinor); err != nil {
		return domain.Order{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.snapshot.Order(ctx, orderID)
	if err != nil {
		return domain.Order{}, lookupErr("read order", err)
	}
	if order.Status == domain.OrderStatusDeleted {
		return domain.Order{}, domain.ErrOrderDeleted
	}

	previous := order.Clone()
	order.Items = domain.CloneLines(items)
	order.TotalMinor = totalMinor

	op, err := domain.NewOperation(domain.OpUpdateOrder, domain.UpdateOrderPayload{
		OrderID:    order.ID,
		TotalMinor: totalMinor,
		Items:      domain.NewItemRows(order.ID, order.Items),
	})
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.snapshot.PutOrder(ctx, order); err != nil {
		return domain.Order{}, fatal("store order", err)
	}
	if err := s.commit(ctx, op, restoreOrder(s.snapshot, previous)); err != nil {
		return domain.Order{}, err
	}
	return order.Clone(), nil
}

// UpdateOrderStatus продвигает статус заказа. Повторная установка того же статуса — no-op.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.snapshot.Order(ctx, orderID)
	if err != nil {
		return domain.Order{}, lookupErr("read order", err)
	}
	if order.Status == status {
		return order.Clone(), nil
	}
	if !order.Status.CanTransitionTo(status) {
		return domain.Order{}, domain.ErrInvalidStatusTransition
	}

	previous := order.Clone()
	order.Status = status
	op, err := domain.NewOperation(domain.OpUpdateStatus, domain.UpdateStatusPayload{
		OrderID: order.ID,
		Status:  status,
	})
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.snapshot.PutOrder(ctx, order); err != nil {
		return domain.Order{}, fatal("store order", err)
	}
	if err := s.commit(ctx, op, restoreOrder(s.snapshot, previous)); err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   status,
	}).Info("order status changed")
	return order.Clone(), nil
}

// SoftDeleteOrder переводит заказ в deleted. Идемпотентна.
func (s *Service) SoftDeleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.UpdateOrderStatus(ctx, orderID, domain.OrderStatusDeleted)
}

// ResetAllBills жёстко удаляет все заказы в удалённом хранилище, минуя очередь,
// затем очищает локальные заказы и корзину независимо от результата удалённого вызова.
// Очередь не трогается. remoteConfirmed=false означает, что удаление на сервере не подтверждено.
func (s *Service) ResetAllBills(ctx context.Context) (remoteConfirmed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation.Add(1)

	if remoteErr := s.remote.DeleteAllOrders(context.WithoutCancel(ctx)); remoteErr != nil {
		s.logger.WithError(remoteErr).Warn("remote reset of bills failed")
	} else {
		remoteConfirmed = true
	}

	if err := s.snapshot.ClearOrders(ctx); err != nil {
		return remoteConfirmed, fatal("clear orders", err)
	}
	if err := s.snapshot.SaveCart(ctx, nil); err != nil {
		return remoteConfirmed, fatal("clear cart", err)
	}

	if remoteConfirmed {
		s.publishChange(ctx, domain.PendingOperation{Type: changeResetAll})
	}
	s.logger.WithField("remote_confirmed", remoteConfirmed).Warn("all bills reset")
	return remoteConfirmed, nil
}

// Orders возвращает заказы из снапшота, новые первыми. Пустой status — все, кроме
// удалённых: они остаются в снапшоте только ради уникальности номеров.
func (s *Service) Orders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	orders, err := s.snapshot.Orders(ctx)
	if err != nil {
		return nil, fatal("read orders", err)
	}
	filtered := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		switch {
		case status == "" && order.Status != domain.OrderStatusDeleted:
		case status != "" && order.Status == status:
		default:
			continue
		}
		filtered = append(filtered, order)
	}
	return filtered, nil
}

// Order возвращает заказ из снапшота.
func (s *Service) Order(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.snapshot.Order(ctx, orderID)
	if err != nil {
		return domain.Order{}, lookupErr("read order", err)
	}
	return order, nil
}

// SalesSummary — выручка по оплаченным заказам за период.
type SalesSummary struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Orders       int       `json:"orders"`
	RevenueMinor int64     `json:"revenue_minor"`
	Items        int64     `json:"items"`
}

// Summary считает оплаченные (billed) заказы с CreatedAt в [from, to).
func (s *Service) Summary(ctx context.Context, from, to time.Time) (SalesSummary, error) {
	orders, err := s.Orders(ctx, domain.OrderStatusBilled)
	if err != nil {
		return SalesSummary{}, err
	}

	summary := SalesSummary{From: from, To: to}
	for _, order := range orders {
		if order.CreatedAt.Before(from) || !order.CreatedAt.Before(to) {
			continue
		}
		summary.Orders++
		summary.RevenueMinor += order.TotalMinor
		for _, line := range order.Items {
			summary.Items += int64(line.Qty)
		}
	}
	return summary, nil
}

func restoreOrder(snapshot domain.SnapshotStore, previous domain.Order) func(context.Context) error {
	return func(ctx context.Context) error {
		return snapshot.PutOrder(ctx, previous)
	}
}

func validateLines(items []domain.CartLine, totalMinor int64) error {
	var errs []error
	if len(items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	if totalMinor < 0 {
		errs = append(errs, domain.ErrAmountNegative)
	}
	for _, item := range items {
		if item.Qty <= 0 {
			errs = append(errs, domain.ErrItemQtyInvalid)
		}
		if item.EffectivePriceMinor() < 0 {
			errs = append(errs, domain.ErrItemPriceInvalid)
		}
	}
	if domain.LinesTotal(items) != totalMinor {
		errs = append(errs, domain.ErrAmountMismatch)
	}
	return validationErr(errs)
}
