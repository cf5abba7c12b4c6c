// Package httpapi — локальный REST API кассы поверх фасада мутаций.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/service/billing"
	"github.com/vladislavdragonenkov/posync/internal/service/refresh"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
)

// Billing — операции фасада, доступные через API.
type Billing interface {
	Products(ctx context.Context) ([]domain.Product, error)
	AddProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, id string, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	Cart(ctx context.Context) (billing.CartSummary, error)
	AddToCart(ctx context.Context, productID string) (billing.CartSummary, error)
	RemoveFromCart(ctx context.Context, productID string) (billing.CartSummary, error)
	UpdateQuantity(ctx context.Context, productID string, qty int32) (billing.CartSummary, error)
	UpdatePrice(ctx context.Context, productID string, priceMinor int64) (billing.CartSummary, error)
	ClearCart(ctx context.Context) error

	Orders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	CreateOrder(ctx context.Context, customerName string) (domain.Order, error)
	UpdateOrder(ctx context.Context, id string, items []domain.CartLine, totalMinor int64) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error)
	SoftDeleteOrder(ctx context.Context, id string) (domain.Order, error)
	ResetAllBills(ctx context.Context) (bool, error)
	Summary(ctx context.Context, from, to time.Time) (billing.SalesSummary, error)
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

// Sessions — вход по PIN и проверка сессий.
type Sessions interface {
	Login(ctx context.Context, pin string, sessionType domain.SessionType) (domain.Session, error)
	Logout(ctx context.Context, sessionType domain.SessionType) error
	Check(ctx context.Context, sessionType domain.SessionType) bool
}

// Server собирает маршруты API.
type Server struct {
	router    *mux.Router
	billing   Billing
	sync      Sync
	refresher Refresher
	sessions  Sessions
	location  *time.Location
	logger    *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithSessions включает проверку сессий для истории, сводки и сброса.
func WithSessions(sessions Sessions) Option {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithLocation задаёт часовой пояс для границ дня в сводке.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer создаёт API-сервер.
func NewServer(billingService Billing, sync Sync, refresher Refresher, options ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		billing:   billingService,
		sync:      sync,
		refresher: refresher,
		location:  time.Local,
		logger:    log.WithField("component", "http-api"),
	}
	for _, option := range options {
		option(s)
	}
	s.routes()
	return s
}

// Handler возвращает корневой http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", s.handleAddProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.handleUpdateProduct).Methods(http.MethodPut)
	api.HandleFunc("/products/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)

	api.HandleFunc("/cart", s.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", s.handleClearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", s.handleAddToCart).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{productID}", s.handleUpdateCartItem).Methods(http.MethodPatch)
	api.HandleFunc("/cart/items/{productID}", s.handleRemoveFromCart).Methods(http.MethodDelete)

	api.HandleFunc("/orders", s.requireSession(domain.SessionHistorySummary, s.handleListOrders)).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/reset", s.requireSession(domain.SessionOwner, s.handleResetAllBills)).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleUpdateOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}", s.handleSoftDeleteOrder).Methods(http.MethodDelete)
	api.HandleFunc("/orders/{id}/status", s.handleUpdateOrderStatus).Methods(http.MethodPatch)

	api.HandleFunc("/summary", s.requireSession(domain.SessionHistorySummary, s.handleSummary)).Methods(http.MethodGet)

	api.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/drain", s.handleSyncDrain).Methods(http.MethodPost)
	api.HandleFunc("/sync/refresh", s.handleRefresh).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{type}", s.handleCheckSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{type}", s.handleLogout).Methods(http.MethodDelete)
}

// requireSession пропускает запрос только при действующей сессии указанного типа.
// Без настроенных сессий маршрут открыт.
func (s *Server) requireSession(sessionType domain.SessionType, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessions != nil && !s.sessions.Check(r.Context(), sessionType) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session required: " + string(sessionType)})
			return
		}
		next(w, r)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// statusFor переводит доменную ошибку в HTTP-статус.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPIN):
		return http.StatusUnauthorized
	case refresh.IsSkipped(err):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadJSON = errors.New("malformed request body")

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errBadJSON
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}
