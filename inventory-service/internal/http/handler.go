package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fjod/go_cart_saga/inventory-service/internal/domain"
	"github.com/fjod/go_cart_saga/inventory-service/internal/store"
	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type InventoryHandler struct {
	store store.InventoryStore
}

func NewInventoryHandler(s store.InventoryStore) *InventoryHandler {
	return &InventoryHandler{store: s}
}

type ReserveRequest struct {
	IdempotencyKey string                   `json:"idempotency_key"`
	CartID         string                   `json:"cart_id"`
	Items          []domain.ReservationItem `json:"items"`
	Address        domain.Address           `json:"address"`
}

type ReservationResponse struct {
	ReservationID string                   `json:"reservation_id"`
	Status        domain.ReservationStatus `json:"status"`
	ExpiresAt     time.Time                `json:"expires_at"`
}

func (h *InventoryHandler) Routes(r chi.Router) {
	r.Get("/internal/stock", h.GetStock)
	r.Route("/internal/reservations", func(r chi.Router) {
		r.Post("/", h.Reserve)
		r.Get("/{id}", h.GetReservation)
		r.Post("/{id}/commit", h.Commit)
		r.Post("/{id}/release", h.Release)
	})
}

// GetStock answers stock and price for every requested product_id that is
// stocked. Unknown ids are left out.
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	skus := r.URL.Query()["product_id"]
	stocks, err := h.store.GetStock(skus)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]domain.Snapshot, len(stocks))
	for i, s := range stocks {
		out[i] = s.Snapshot()
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"stocks": out})
}

func (h *InventoryHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			httpx.RespondError(w, http.StatusBadRequest, "validation_error", "every item needs product_id and a positive quantity")
			return
		}
	}

	res, err := h.store.Reserve(store.ReserveRequest{
		IdempotencyKey: req.IdempotencyKey,
		CartID:         req.CartID,
		Items:          req.Items,
		Address:        req.Address,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().
		Str("reservation_id", res.ID).
		Str("cart_id", res.CartID).
		Int("items", len(res.Items)).
		Msg("stock reserved")
	httpx.RespondJSON(w, http.StatusCreated, toResponse(res))
}

func (h *InventoryHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetReservation(chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) Commit(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Commit(chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, toResponse(res))
}

func (h *InventoryHandler) Release(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Release(chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, toResponse(res))
}

func toResponse(res *domain.Reservation) ReservationResponse {
	return ReservationResponse{ReservationID: res.ID, Status: res.Status, ExpiresAt: res.ExpiresAt}
}

func (h *InventoryHandler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrProductNotFound), errors.Is(err, store.ErrInsufficientStock):
		httpx.RespondError(w, http.StatusConflict, "out_of_stock", err.Error())
	case errors.Is(err, store.ErrAddressUnservable):
		httpx.RespondError(w, http.StatusUnprocessableEntity, "address_unservable", err.Error())
	case errors.Is(err, store.ErrEmptyReservation):
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, store.ErrReservationNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrReservationExpired):
		httpx.RespondError(w, http.StatusGone, "reservation_expired", err.Error())
	case errors.Is(err, store.ErrInvalidStatus):
		httpx.RespondError(w, http.StatusConflict, "invalid_status", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("inventory operation failed")
		httpx.RespondError(w, http.StatusInternalServerError, "storage_error", nil)
	}
}
