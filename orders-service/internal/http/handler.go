package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart_saga/orders-service/internal/domain"
	"github.com/fjod/go_cart_saga/orders-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type OrdersHandler struct {
	repo repository.OrderRepository
}

func NewOrdersHandler(repo repository.OrderRepository) *OrdersHandler {
	return &OrdersHandler{repo: repo}
}

type CreateOrderRequest struct {
	ReservationID string             `json:"reservation_id"`
	UserID        string             `json:"user_id"`
	Email         string             `json:"email"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency"`
	Items         []domain.OrderItem `json:"items"`
	Address       json.RawMessage    `json:"address"`
	Shipping      json.RawMessage    `json:"shipping"`
	Payment       domain.Payment     `json:"payment"`
}

type CreateOrderResponse struct {
	Order   *domain.Order `json:"order"`
	Created bool          `json:"created"`
}

type ListOrdersResponse struct {
	Orders []*domain.Order `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *OrdersHandler) Routes(r chi.Router) {
	r.Route("/internal/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/by-reservation/{reservationID}", h.GetOrderByReservation)
		r.Get("/{id}", h.GetOrder)
		r.Patch("/{id}/status", h.UpdateStatus)
	})
}

// CreateOrder answers 201 for a new order and 200 with the original order
// when the reservation already has one.
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if msg := validateCreate(req); msg != "" {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	order, created, err := h.repo.CreateOrder(r.Context(), &domain.Order{
		ReservationID: req.ReservationID,
		UserID:        req.UserID,
		Email:         req.Email,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.OrderStatusConfirmed,
		Items:         req.Items,
		Address:       req.Address,
		Shipping:      req.Shipping,
		Payment:       req.Payment,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		zerolog.Ctx(r.Context()).Info().
			Str("order_id", order.ID.String()).
			Str("reservation_id", order.ReservationID).
			Msg("order created")
	}
	httpx.RespondJSON(w, status, CreateOrderResponse{Order: order, Created: created})
}

func validateCreate(req CreateOrderRequest) string {
	switch {
	case req.ReservationID == "":
		return "reservation_id is required"
	case req.UserID == "":
		return "user_id is required"
	case len(req.Currency) != 3:
		return "currency must be a 3-letter code"
	case req.Amount.IsNegative():
		return "amount must not be negative"
	case len(req.Items) == 0:
		return "order needs at least one item"
	}
	return ""
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "invalid order id")
		return
	}
	order, err := h.repo.GetOrderByID(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) GetOrderByReservation(w http.ResponseWriter, r *http.Request) {
	order, err := h.repo.GetOrderByReservationID(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "user_id is required")
		return
	}
	limit, err1 := queryInt(q.Get("limit"), repository.DefaultPageSize)
	offset, err2 := queryInt(q.Get("offset"), 0)
	if err := errors.Join(err1, err2); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "limit and offset must be integers")
		return
	}

	orders, err := h.repo.GetOrdersByUserID(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ListOrdersResponse{Orders: orders, Limit: limit, Offset: offset})
}

func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "invalid order id")
		return
	}
	var req UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if !req.Status.Valid() {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "unknown status")
		return
	}

	order, err := h.repo.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, order)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *OrdersHandler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		httpx.RespondError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, repository.ErrStorage):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("order storage failed")
		httpx.RespondError(w, http.StatusServiceUnavailable, "storage_error", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("order operation failed")
		httpx.RespondError(w, http.StatusInternalServerError, "storage_error", nil)
	}
}
