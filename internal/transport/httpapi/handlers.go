package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/service/billing"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.billing.Products(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var product domain.Product
	if err := decode(r, &product); err != nil {
		s.badRequest(w, err)
		return
	}
	created, err := s.billing.AddProduct(r.Context(), product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var product domain.Product
	if err := decode(r, &product); err != nil {
		s.badRequest(w, err)
		return
	}
	updated, err := s.billing.UpdateProduct(r.Context(), mux.Vars(r)["id"], product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.billing.DeleteProduct(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.billing.Cart(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.billing.ClearCart(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addToCartRequest struct {
	ProductID string `json:"product_id"`
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	cart, err := s.billing.AddToCart(r.Context(), req.ProductID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// updateCartItemRequest меняет количество и/или цену позиции.
type updateCartItemRequest struct {
	Qty        *int32 `json:"quantity"`
	PriceMinor *int64 `json:"price_minor"`
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Qty == nil && req.PriceMinor == nil {
		s.badRequest(w, errors.New("quantity or price_minor is required"))
		return
	}

	var (
		productID = mux.Vars(r)["productID"]
		cart      billing.CartSummary
		err       error
	)
	if req.PriceMinor != nil {
		cart, err = s.billing.UpdatePrice(r.Context(), productID, *req.PriceMinor)
	}
	if err == nil && req.Qty != nil {
		cart, err = s.billing.UpdateQuantity(r.Context(), productID, *req.Qty)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.billing.RemoveFromCart(r.Context(), mux.Vars(r)["productID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, domain.ErrInvalidStatus)
		return
	}
	orders, err := s.billing.Orders(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.billing.Order(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type createOrderRequest struct {
	CustomerName string `json:"customer_name"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	order, err := s.billing.CreateOrder(r.Context(), req.CustomerName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type updateOrderRequest struct {
	Items      []domain.CartLine `json:"items"`
	TotalMinor int64             `json:"total_minor"`
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	order, err := s.billing.UpdateOrder(r.Context(), mux.Vars(r)["id"], req.Items, req.TotalMinor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	order, err := s.billing.UpdateOrderStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleSoftDeleteOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.billing.SoftDeleteOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type resetResponse struct {
	RemoteConfirmed bool `json:"remote_confirmed"`
}

func (s *Server) handleResetAllBills(w http.ResponseWriter, r *http.Request) {
	confirmed, err := s.billing.ResetAllBills(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{RemoteConfirmed: confirmed})
}

// handleSummary принимает ?date=YYYY-MM-DD (по умолчанию сегодня)
// или явный полуинтервал ?from=&to= в RFC 3339.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.summaryRange(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	summary, err := s.billing.Summary(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) summaryRange(r *http.Request) (time.Time, time.Time, error) {
	query := r.URL.Query()
	if rawFrom, rawTo := query.Get("from"), query.Get("to"); rawFrom != "" || rawTo != "" {
		from, err := time.Parse(time.RFC3339, rawFrom)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		to, err := time.Parse(time.RFC3339, rawTo)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		if !from.Before(to) {
			return time.Time{}, time.Time{}, errors.New("from must be before to")
		}
		return from, to, nil
	}

	day := time.Now().In(s.location)
	if raw := query.Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, s.location)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("date must be YYYY-MM-DD")
		}
		day = parsed
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, 1), nil
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type drainResponse struct {
	Applied int `json:"applied"`
}

func (s *Server) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	applied, err := s.sync.Drain(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drainResponse{Applied: applied})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresher.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginRequest struct {
	PIN  string             `json:"pin"`
	Type domain.SessionType `json:"type"`
}

type checkResponse struct {
	Valid bool `json:"valid"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "sessions are not configured"})
		return
	}
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	session, err := s.sessions.Login(r.Context(), req.PIN, req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, checkResponse{Valid: true})
		return
	}
	valid := s.sessions.Check(r.Context(), domain.SessionType(mux.Vars(r)["type"]))
	writeJSON(w, http.StatusOK, checkResponse{Valid: valid})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.sessions != nil {
		if err := s.sessions.Logout(r.Context(), domain.SessionType(mux.Vars(r)["type"])); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
