package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType — тип отложенной удалённой мутации.
type OperationType string

const (
	OpCreateOrder   OperationType = "create_order"
	OpUpdateOrder   OperationType = "update_order"
	OpUpdateStatus  OperationType = "update_status"
	OpAddProduct    OperationType = "add_product"
	OpUpdateProduct OperationType = "update_product"
	OpDeleteProduct OperationType = "delete_product"
)

// PendingOperation — запись журнала ещё не подтверждённых удалённых мутаций.
type PendingOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// CreateOrderPayload — данные для create_order: строка заказа и его позиции.
type CreateOrderPayload struct {
	Order OrderRow       `json:"order"`
	Items []OrderItemRow `json:"items"`
}

// UpdateOrderPayload — полная замена суммы и позиций заказа.
type UpdateOrderPayload struct {
	OrderID    string         `json:"order_id"`
	TotalMinor int64          `json:"total_minor"`
	Items      []OrderItemRow `json:"items"`
}

// UpdateStatusPayload — смена статуса заказа.
type UpdateStatusPayload struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// ProductPayload — полное состояние товара для add_product/update_product.
type ProductPayload struct {
	Product Product `json:"product"`
}

// DeleteProductPayload — удаление товара из каталога.
type DeleteProductPayload struct {
	ProductID string `json:"product_id"`
}

// NewOperation сериализует payload и создаёт операцию с новым идентификатором.
func NewOperation(opType OperationType, payload any) (PendingOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("marshal %s payload: %w", opType, err)
	}
	return PendingOperation{
		ID:         uuid.NewString(),
		Type:       opType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode разбирает payload операции в v.
func (op PendingOperation) Decode(v any) error {
	if err := json.Unmarshal(op.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedOperation, op.Type, err)
	}
	return nil
}
