package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
	"github.com/fjod/go_cart_saga/cart-service/internal/service"
	"github.com/fjod/go_cart_saga/pkg/httpx"
)

// Aggregate is what the handler needs from the cart service.
type Aggregate interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	GetSummary(ctx context.Context, cartID string) (domain.Summary, error)
	AddItem(ctx context.Context, cartID string, item domain.LineItem) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, cartID, productID, variantID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, productID, variantID string) (*domain.Cart, error)
	SetAddress(ctx context.Context, cartID string, addr domain.Address) (*domain.Cart, error)
	SelectShipping(ctx context.Context, cartID, methodID string) (*domain.Cart, error)
	ApplyCoupon(ctx context.Context, cartID, code string) (*domain.Cart, error)
	Clear(ctx context.Context, cartID string) error
	SetSagaPointers(ctx context.Context, cartID, reservationID, paymentOrderID string) (*domain.Cart, error)
	ClearSagaPointers(ctx context.Context, cartID, reservationID string) error
}

type CartHandler struct {
	carts Aggregate
}

func NewCartHandler(carts Aggregate) *CartHandler {
	return &CartHandler{carts: carts}
}

type AddItemRequest struct {
	ProductID  string            `json:"product_id"`
	VariantID  string            `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Title      string            `json:"title"`
	Attributes map[string]string `json:"attributes"`
}

type UpdateQuantityRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type ShippingRequest struct {
	MethodID string `json:"method_id"`
}

type CouponRequest struct {
	Code string `json:"code"`
}

type SagaPointersRequest struct {
	ReservationID  string `json:"reservation_id"`
	PaymentOrderID string `json:"payment_order_id"`
}

// Routes mounts the cart endpoints on r.
func (h *CartHandler) Routes(r chi.Router) {
	r.Route("/internal/carts/{cartID}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.Clear)
		r.Get("/summary", h.GetSummary)
		r.Post("/items", h.AddItem)
		r.Patch("/items", h.UpdateQuantity)
		r.Delete("/items", h.RemoveItem)
		r.Put("/address", h.SetAddress)
		r.Put("/shipping", h.SelectShipping)
		r.Put("/coupon", h.ApplyCoupon)
		r.Put("/saga", h.SetSagaPointers)
		r.Delete("/saga", h.ClearSagaPointers)
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), chi.URLParam(r, "cartID"))
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.carts.GetSummary(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, summary)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cart, err := h.carts.AddItem(r.Context(), chi.URLParam(r, "cartID"), domain.LineItem{
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		Title:      req.Title,
		Attributes: req.Attributes,
	})
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cart, err := h.carts.UpdateItemQuantity(r.Context(), chi.URLParam(r, "cartID"), req.ProductID, req.VariantID, req.Quantity)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("product_id") == "" {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", "product_id is required")
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), chi.URLParam(r, "cartID"), q.Get("product_id"), q.Get("variant_id"))
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) SetAddress(w http.ResponseWriter, r *http.Request) {
	var addr domain.Address
	if err := httpx.DecodeJSON(r, &addr); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cart, err := h.carts.SetAddress(r.Context(), chi.URLParam(r, "cartID"), addr)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) SelectShipping(w http.ResponseWriter, r *http.Request) {
	var req ShippingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cart, err := h.carts.SelectShipping(r.Context(), chi.URLParam(r, "cartID"), req.MethodID)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	cart, err := h.carts.ApplyCoupon(r.Context(), chi.URLParam(r, "cartID"), req.Code)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), chi.URLParam(r, "cartID")); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) SetSagaPointers(w http.ResponseWriter, r *http.Request) {
	var req SagaPointersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.ReservationID == "" {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", "reservation_id is required")
		return
	}
	cart, err := h.carts.SetSagaPointers(r.Context(), chi.URLParam(r, "cartID"), req.ReservationID, req.PaymentOrderID)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandler) ClearSagaPointers(w http.ResponseWriter, r *http.Request) {
	reservationID := r.URL.Query().Get("reservation_id")
	if reservationID == "" {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", "reservation_id is required")
		return
	}
	if err := h.carts.ClearSagaPointers(r.Context(), chi.URLParam(r, "cartID"), reservationID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respondCart(w http.ResponseWriter, r *http.Request, cart *domain.Cart, err error) {
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httpx.RespondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrCartNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", "cart not found")
	case errors.Is(err, domain.ErrItemNotFound):
		httpx.RespondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrCheckoutInProgress):
		httpx.RespondError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.RespondError(w, http.StatusServiceUnavailable, "timeout", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("cart operation failed")
		httpx.RespondError(w, http.StatusInternalServerError, "storage_error", nil)
	}
}
