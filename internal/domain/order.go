package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает жизненный цикл заказа на кассе.
type OrderStatus string

const (
	// OrderStatusPending — заказ оформлен на кассе и ждёт комплектации.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPacked — заказ собран и проверен.
	OrderStatusPacked OrderStatus = "packed"
	// OrderStatusBilled — по заказу выставлен счёт, цикл завершён.
	OrderStatusBilled OrderStatus = "billed"
	// OrderStatusDeleted — мягкое удаление, терминальный статус.
	OrderStatusDeleted OrderStatus = "deleted"
)

// Valid сообщает, является ли статус одним из известных.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPacked, OrderStatusBilled, OrderStatusDeleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода.
// Статус двигается только вперёд на один шаг (pending → packed → billed),
// в deleted можно перейти из любого состояния.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusDeleted {
		return true
	}
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPacked
	case OrderStatusPacked:
		return next == OrderStatusBilled
	default:
		return false
	}
}

// CartLine представляет одну позицию корзины или заказа.
type CartLine struct {
	Product Product `json:"product"`
	// Qty — количество единиц, всегда >= 1.
	Qty int32 `json:"quantity"`
	// OverriddenPriceMinor — цена, вручную изменённая кассиром; nil означает цену из каталога.
	OverriddenPriceMinor *int64 `json:"overridden_price_minor,omitempty"`
}

// EffectivePriceMinor возвращает цену за единицу с учётом ручной правки.
func (l CartLine) EffectivePriceMinor() int64 {
	if l.OverriddenPriceMinor != nil {
		return *l.OverriddenPriceMinor
	}
	return l.Product.PriceMinor
}

// TotalMinor возвращает стоимость позиции.
func (l CartLine) TotalMinor() int64 {
	return int64(l.Qty) * l.EffectivePriceMinor()
}

// LinesTotal считает сумму по позициям: Σ(effectivePrice × qty).
func LinesTotal(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.TotalMinor()
	}
	return total
}

// CloneLines возвращает глубокую копию позиций, чтобы снапшот не разделял память с вызывающим.
func CloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	out := make([]CartLine, len(lines))
	for i, line := range lines {
		out[i] = line
		if line.OverriddenPriceMinor != nil {
			price := *line.OverriddenPriceMinor
			out[i].OverriddenPriceMinor = &price
		}
	}
	return out
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID           string      `json:"id"`
	OrderNumber  string      `json:"order_number"`
	CustomerName string      `json:"customer_name"`
	Items        []CartLine  `json:"items"`
	TotalMinor   int64       `json:"total_minor"`
	CreatedAt    time.Time   `json:"created_at"`
	Status       OrderStatus `json:"status"`
}

// Clone возвращает копию заказа без общих срезов.
func (o Order) Clone() Order {
	o.Items = CloneLines(o.Items)
	return o
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.CustomerName) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if o.OrderNumber == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.EffectivePriceMinor() < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if LinesTotal(o.Items) != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OrderRow — строка заказа в удалённом хранилище (без позиций).
type OrderRow struct {
	ID           string      `json:"id"`
	OrderNumber  string      `json:"order_number"`
	CustomerName string      `json:"customer_name"`
	TotalMinor   int64       `json:"total_minor"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Row возвращает строковое представление заказа для удалённой записи.
func (o Order) Row() OrderRow {
	return OrderRow{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		CustomerName: o.CustomerName,
		TotalMinor:   o.TotalMinor,
		Status:       o.Status,
		CreatedAt:    o.CreatedAt,
	}
}

// OrderItemRow — строка позиции заказа в удалённом хранилище.
// ID назначается один раз при мутации, поэтому повторная вставка при replay идемпотентна.
type OrderItemRow struct {
	ID                string `json:"id"`
	OrderID           string `json:"order_id"`
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name"`
	ProductPriceMinor int64  `json:"product_price_minor"`
	Qty               int32  `json:"quantity"`
}

// NewItemRows переводит позиции в строки для удалённого хранилища,
// фиксируя эффективную цену каждой позиции.
func NewItemRows(orderID string, lines []CartLine) []OrderItemRow {
	rows := make([]OrderItemRow, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, OrderItemRow{
			ID:                uuid.NewString(),
			OrderID:           orderID,
			ProductID:         line.Product.ID,
			ProductName:       line.Product.Name,
			ProductPriceMinor: line.EffectivePriceMinor(),
			Qty:               line.Qty,
		})
	}
	return rows
}

// OrderFromRows собирает заказ из строк удалённого хранилища.
// Категория товара в позициях не хранится, ручная правка цены сливается с ценой позиции.
func OrderFromRows(row OrderRow, items []OrderItemRow) Order {
	lines := make([]CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, CartLine{
			Product: Product{
				ID:         item.ProductID,
				Name:       item.ProductName,
				PriceMinor: item.ProductPriceMinor,
			},
			Qty: item.Qty,
		})
	}
	return Order{
		ID:           row.ID,
		OrderNumber:  row.OrderNumber,
		CustomerName: row.CustomerName,
		Items:        lines,
		TotalMinor:   row.TotalMinor,
		CreatedAt:    row.CreatedAt,
		Status:       row.Status,
	}
}
