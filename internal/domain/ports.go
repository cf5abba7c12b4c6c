package domain

import (
	"context"
	"time"
)

// Connectivity сообщает текущую доступность сети. Значение — подсказка, а не гарантия:
// удалённый вызов может упасть и при Online() == true.
type Connectivity interface {
	Online() bool
}

// OperationQueue — durable FIFO-журнал неподтверждённых удалённых мутаций (WAL).
// Append и Remove атомарны относительно друг друга.
type OperationQueue interface {
	// Append durable-сохраняет операцию в конец очереди до возврата управления.
	Append(ctx context.Context, op PendingOperation) (string, error)
	// Remove удаляет подтверждённую операцию. Отсутствующий id не считается ошибкой.
	Remove(ctx context.Context, id string) error
	// PeekFirst возвращает голову очереди; ok=false для пустой очереди.
	PeekFirst(ctx context.Context) (op PendingOperation, ok bool, err error)
	// List возвращает все операции в порядке постановки.
	List(ctx context.Context) ([]PendingOperation, error)
	// Len возвращает число операций в очереди.
	Len(ctx context.Context) (int, error)
	// Changes сигнализирует о добавлении операций.
	Changes() <-chan struct{}
}

// SnapshotStore — локальная проекция каталога, заказов и корзины для офлайн-чтения.
// Каждая запись сохраняется durable до возврата управления.
type SnapshotStore interface {
	Products(ctx context.Context) ([]Product, error)
	Product(ctx context.Context, id string) (Product, error)
	PutProduct(ctx context.Context, product Product) error
	DeleteProduct(ctx context.Context, id string) error
	// ReplaceProducts полностью заменяет каталог (авторитетное обновление).
	ReplaceProducts(ctx context.Context, products []Product) error

	// Orders возвращает заказы, новые первыми.
	Orders(ctx context.Context) ([]Order, error)
	Order(ctx context.Context, id string) (Order, error)
	// PutOrder заменяет заказ с тем же ID или добавляет новый в начало.
	PutOrder(ctx context.Context, order Order) error
	// ReplaceOrders полностью заменяет проекцию заказов (авторитетное обновление).
	ReplaceOrders(ctx context.Context, orders []Order) error
	// ClearOrders удаляет все заказы из проекции (путь полного сброса).
	ClearOrders(ctx context.Context) error

	Cart(ctx context.Context) ([]CartLine, error)
	SaveCart(ctx context.Context, lines []CartLine) error
}

// RemoteStore — удалённое хранилище со строковыми upsert/insert/update/delete по ключу.
type RemoteStore interface {
	UpsertOrder(ctx context.Context, order OrderRow) error
	// InsertOrderItems вставляет позиции; уже существующие по ID пропускаются.
	InsertOrderItems(ctx context.Context, items []OrderItemRow) error
	UpdateOrderTotal(ctx context.Context, orderID string, totalMinor int64) error
	DeleteOrderItems(ctx context.Context, orderID string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	// DeleteAllOrders жёстко удаляет все заказы вместе с позициями.
	DeleteAllOrders(ctx context.Context) error
	// MaxOrderNumber возвращает наибольший номер заказа с указанным префиксом.
	MaxOrderNumber(ctx context.Context, prefix string) (number string, ok bool, err error)
	// ListOrders возвращает все заказы, включая soft-deleted, новые первыми.
	ListOrders(ctx context.Context) ([]Order, error)

	UpsertProduct(ctx context.Context, product Product) error
	DeleteProduct(ctx context.Context, id string) error
	// ListProducts возвращает каталог, отсортированный по названию.
	ListProducts(ctx context.Context) ([]Product, error)

	Ping(ctx context.Context) error
}

// ChangeNotification — уведомление об изменении удалённых данных.
type ChangeNotification struct {
	Table       string        `json:"table"`
	RecordID    string        `json:"record_id"`
	Operation   OperationType `json:"operation"`
	Origin      string        `json:"origin"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}

// ChangePublisher рассылает уведомления другим устройствам.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change ChangeNotification) error
}

// SessionIssuer выдаёт сессию по PIN.
type SessionIssuer interface {
	Issue(ctx context.Context, pin string, sessionType SessionType) (Session, error)
}

// SessionValidator проверяет сессию на сервере.
type SessionValidator interface {
	Validate(ctx context.Context, session Session) (bool, error)
}

// SessionPurger удаляет истёкшие сессии на сервере порциями не больше limit.
type SessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SessionCache хранит выданные сессии локально.
type SessionCache interface {
	LoadSession(ctx context.Context, sessionType SessionType) (Session, bool, error)
	SaveSession(ctx context.Context, session Session) error
	DropSession(ctx context.Context, sessionType SessionType) error
}
