// Package http exposes the checkout orchestrator on signed internal routes.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/checkout-service/internal/service"
	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type CheckoutHandler struct {
	svc service.CheckoutService
}

func NewCheckoutHandler(svc service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{svc: svc}
}

type ReconciliationResponse struct {
	ReservationID  string `json:"reservation_id"`
	PaymentOrderID string `json:"payment_order_id"`
	CaptureID      string `json:"capture_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"created_at"`
}

func (h *CheckoutHandler) Routes(r chi.Router) {
	r.Route("/internal/checkout", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Post("/capture", h.Capture)
		r.Get("/reconciliations", h.Reconciliations)
		r.Get("/{reservationID}", h.Status)
		r.Post("/{reservationID}/cancel", h.Cancel)
	})
}

// Start answers 201 with the approval URL the buyer is sent to.
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req d.StartRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(d.KindValidation), err.Error())
		return
	}
	req.CartID = strings.TrimSpace(req.CartID)
	req.UserID = strings.TrimSpace(req.UserID)

	res, err := h.svc.Start(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, res)
}

// Capture is called when the buyer returns from the processor. Repeated
// calls for the same reservation answer with the recorded result.
func (h *CheckoutHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req d.CaptureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(d.KindValidation), err.Error())
		return
	}
	if req.ReservationID == "" || req.PaymentOrderID == "" {
		httpx.RespondError(w, http.StatusBadRequest, string(d.KindValidation), "reservation_id and payment_order_id are required")
		return
	}

	res, err := h.svc.Capture(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, view)
}

func (h *CheckoutHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Status(r.Context(), chi.URLParam(r, "reservationID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, view)
}

func (h *CheckoutHandler) Reconciliations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Reconciliations(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	out := make([]ReconciliationResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, ReconciliationResponse{
			ReservationID:  row.ReservationID,
			PaymentOrderID: row.PaymentOrderID,
			CaptureID:      row.CaptureID,
			Amount:         row.Amount,
			Currency:       row.Currency,
			Reason:         row.Reason,
			CreatedAt:      row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func statusFor(kind d.Kind) int {
	switch kind {
	case d.KindValidation:
		return http.StatusBadRequest
	case d.KindNotFound:
		return http.StatusNotFound
	case d.KindReservationFailed, d.KindPaymentCancelled, d.KindInProgress:
		return http.StatusConflict
	case d.KindReservationExpired:
		return http.StatusGone
	case d.KindPaymentCreateFailed:
		return http.StatusBadGateway
	case d.KindCaptureFailed:
		return http.StatusPaymentRequired
	case d.KindPostCaptureFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var se *d.SagaError
	if !errors.As(err, &se) {
		se = &d.SagaError{Kind: d.KindStorage, Err: err}
	}
	status := statusFor(se.Kind)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", string(se.Kind)).Msg("checkout request failed")
	}
	var details any
	if dm := se.Details(); dm != nil {
		details = dm
	}
	httpx.RespondError(w, status, string(se.Kind), details)
}
