package domain

import "errors"

var (
	// Ошибка пустой корзины при оформлении заказа.
	ErrCartEmpty = errors.New("cart is empty")
	// Ошибка отсутствующего имени покупателя.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка неизвестного статуса заказа.
	ErrInvalidStatus = errors.New("unknown order status")
	// ErrInvalidStatusTransition — статус можно только продвинуть вперёд или удалить.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderDeleted — редактирование удалённого заказа запрещено.
	ErrOrderDeleted = errors.New("order is deleted")
	// ErrOrderNotFound возвращается, если заказа нет в локальном снапшоте.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrLocalStorageUnavailable — локальное хранилище недоступно, оптимистичная запись невозможна.
	ErrLocalStorageUnavailable = errors.New("local storage unavailable")
	// ErrRemoteUnavailable — удалённое хранилище не ответило или вернуло ошибку.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrUnknownOperation — в очереди операция неизвестного типа.
	ErrUnknownOperation = errors.New("unknown pending operation type")
	// ErrMalformedOperation — payload операции не удалось разобрать.
	ErrMalformedOperation = errors.New("malformed pending operation")
	// ErrRemoteReferenceMissing — удалённая запись ссылается на строку, которой там нет.
	ErrRemoteReferenceMissing = errors.New("remote write references a missing row")
	// ErrInvalidPIN — PIN не подошёл.
	ErrInvalidPIN = errors.New("invalid pin")
	// ErrSessionTypeInvalid — неизвестный тип сессии.
	ErrSessionTypeInvalid = errors.New("invalid session type")
)

var validationErrors = []error{
	ErrCartEmpty,
	ErrCustomerNameRequired,
	ErrOrderNumberRequired,
	ErrItemsRequired,
	ErrAmountNegative,
	ErrItemQtyInvalid,
	ErrItemPriceInvalid,
	ErrAmountMismatch,
	ErrInvalidStatus,
	ErrInvalidStatusTransition,
	ErrOrderDeleted,
	ErrProductNameRequired,
	ErrSessionTypeInvalid,
}

// IsValidation проверяет, отклонён ли вызов до какой-либо мутации.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет, что ошибка означает отсутствие заказа или товара.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProductNotFound)
}

// IsFatal проверяет, что не удалось сохранить даже локальную оптимистичную запись.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLocalStorageUnavailable)
}
