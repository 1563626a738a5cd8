package http

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

type CheckoutHandler struct {
	checkout remote.Service
}

func NewCheckoutHandler(checkout remote.Service) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type StartCheckoutRequest struct {
	Email     string `json:"email"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type startCheckoutCall struct {
	CartID    string `json:"cart_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
}

type CaptureRequest struct {
	ReservationID  string `json:"reservation_id"`
	PaymentOrderID string `json:"payment_order_id"`
}

// checkoutView is the part of the checkout status the gateway checks
// ownership with.
type checkoutView struct {
	CartID string `json:"cart_id"`
}

func (h *CheckoutHandler) Routes(r chi.Router) {
	r.Route("/checkout", func(r chi.Router) {
		r.Post("/", h.StartCheckout)
		r.Post("/capture", h.Capture)
		r.Get("/return", h.Return)
		r.Get("/{reservationID}", h.Status)
		r.Post("/{reservationID}/cancel", h.Cancel)
	})
}

// StartCheckout checks out the caller's cart.
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req StartCheckoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	userID := userIDFrom(r.Context())
	forward(w, r, h.checkout, http.MethodPost, "/internal/checkout/", startCheckoutCall{
		CartID:    userID,
		UserID:    userID,
		Email:     req.Email,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
	}, http.StatusCreated)
}

func (h *CheckoutHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	h.capture(w, r, req)
}

// Return is where the processor sends the buyer after approval:
// ?reservation_id=...&token=<payment order id>.
func (h *CheckoutHandler) Return(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.capture(w, r, CaptureRequest{ReservationID: q.Get("reservation_id"), PaymentOrderID: q.Get("token")})
}

func (h *CheckoutHandler) capture(w http.ResponseWriter, r *http.Request, req CaptureRequest) {
	if req.ReservationID == "" || req.PaymentOrderID == "" {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "reservation_id and payment_order_id are required")
		return
	}
	if !h.owns(w, r, req.ReservationID) {
		return
	}
	forward(w, r, h.checkout, http.MethodPost, "/internal/checkout/capture", req, http.StatusOK)
}

func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	var out json.RawMessage
	if err := h.checkout.Call(r.Context(), http.MethodGet, statusPath(chi.URLParam(r, "reservationID")), nil, &out); err != nil {
		respondRemoteErr(w, r, err)
		return
	}
	var view checkoutView
	if err := json.Unmarshal(out, &view); err != nil || view.CartID != userIDFrom(r.Context()) {
		httpx.RespondError(w, http.StatusNotFound, "not_found", "checkout not found")
		return
	}
	writeRaw(w, http.StatusOK, out)
}

func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")
	if !h.owns(w, r, reservationID) {
		return
	}
	forward(w, r, h.checkout, http.MethodPost, statusPath(reservationID)+"/cancel", nil, http.StatusOK)
}

// owns answers not_found unless the reservation belongs to the caller's
// cart.
func (h *CheckoutHandler) owns(w http.ResponseWriter, r *http.Request, reservationID string) bool {
	var view checkoutView
	if err := h.checkout.Call(r.Context(), http.MethodGet, statusPath(reservationID), nil, &view); err != nil {
		respondRemoteErr(w, r, err)
		return false
	}
	if view.CartID != userIDFrom(r.Context()) {
		httpx.RespondError(w, http.StatusNotFound, "not_found", "checkout not found")
		return false
	}
	return true
}

func statusPath(reservationID string) string {
	return "/internal/checkout/" + url.PathEscape(reservationID)
}
