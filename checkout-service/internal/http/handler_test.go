package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type fakeCheckout struct {
	startReq   d.StartRequest
	captureReq d.CaptureRequest
	cancelled  string
	err        error
	rows       []r.Reconciliation
}

func (f *fakeCheckout) Start(_ context.Context, req d.StartRequest) (*d.StartResult, error) {
	f.startReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &d.StartResult{
		ReservationID:  "res-1",
		PaymentOrderID: "pp-res-1",
		ApproveURL:     "https://paypal.test/approve?token=pp-res-1",
		State:          d.StatePaymentCreated,
	}, nil
}

func (f *fakeCheckout) Capture(_ context.Context, req d.CaptureRequest) (*d.CaptureResult, error) {
	f.captureReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &d.CaptureResult{OrderID: "order-1", Status: d.StateOrderCreated, ReservationID: req.ReservationID}, nil
}

func (f *fakeCheckout) Cancel(_ context.Context, reservationID string) (*d.StatusView, error) {
	f.cancelled = reservationID
	if f.err != nil {
		return nil, f.err
	}
	return &d.StatusView{ReservationID: reservationID, State: d.StateFailed, FailureKind: d.KindPaymentCancelled}, nil
}

func (f *fakeCheckout) Status(_ context.Context, reservationID string) (*d.StatusView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &d.StatusView{ReservationID: reservationID, State: d.StatePaymentCreated}, nil
}

func (f *fakeCheckout) Resume(context.Context, string) error { return nil }

func (f *fakeCheckout) Reconciliations(context.Context) ([]r.Reconciliation, error) {
	return f.rows, f.err
}

func newRouter(svc *fakeCheckout) http.Handler {
	router := chi.NewRouter()
	NewCheckoutHandler(svc).Routes(router)
	return router
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStart_Created(t *testing.T) {
	svc := &fakeCheckout{}
	rec := do(t, newRouter(svc), http.MethodPost, "/internal/checkout/",
		`{"cart_id":" cart-1 ","user_id":"user-1","email":"a@b.test"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "cart-1", svc.startReq.CartID)

	var res d.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "pp-res-1", res.PaymentOrderID)
	assert.Equal(t, d.StatePaymentCreated, res.State)
}

func TestStart_InvalidBody(t *testing.T) {
	rec := do(t, newRouter(&fakeCheckout{}), http.MethodPost, "/internal/checkout/", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error)
}

func TestCapture_RequiresIDs(t *testing.T) {
	svc := &fakeCheckout{}
	rec := do(t, newRouter(svc), http.MethodPost, "/internal/checkout/capture", `{"reservation_id":"res-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.captureReq.ReservationID)
}

func TestCapture_OK(t *testing.T) {
	svc := &fakeCheckout{}
	rec := do(t, newRouter(svc), http.MethodPost, "/internal/checkout/capture",
		`{"reservation_id":"res-1","payment_order_id":"pp-res-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res d.CaptureResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "order-1", res.OrderID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		kind   d.Kind
		status int
	}{
		{d.KindValidation, http.StatusBadRequest},
		{d.KindNotFound, http.StatusNotFound},
		{d.KindInProgress, http.StatusConflict},
		{d.KindReservationFailed, http.StatusConflict},
		{d.KindReservationExpired, http.StatusGone},
		{d.KindPaymentCreateFailed, http.StatusBadGateway},
		{d.KindCaptureFailed, http.StatusPaymentRequired},
		{d.KindPaymentCancelled, http.StatusConflict},
		{d.KindPostCaptureFailure, http.StatusInternalServerError},
		{d.KindUnavailable, http.StatusServiceUnavailable},
		{d.KindStorage, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &fakeCheckout{err: &d.SagaError{Kind: tt.kind, ReservationID: "res-1"}}
			rec := do(t, newRouter(svc), http.MethodPost, "/internal/checkout/capture",
				`{"reservation_id":"res-1","payment_order_id":"pp-res-1"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.kind), decodeError(t, rec).Error)
		})
	}
}

func TestPostCaptureFailureFlagsCapturedPayment(t *testing.T) {
	svc := &fakeCheckout{err: &d.SagaError{
		Kind:            d.KindPostCaptureFailure,
		ReservationID:   "res-1",
		Reason:          "reservation_expired",
		PaymentCaptured: true,
	}}
	rec := do(t, newRouter(svc), http.MethodPost, "/internal/checkout/capture",
		`{"reservation_id":"res-1","payment_order_id":"pp-res-1"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	details, ok := decodeError(t, rec).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["payment_captured"])
	assert.Equal(t, "res-1", details["reservation_id"])
}

func TestCancelAndStatus(t *testing.T) {
	svc := &fakeCheckout{}
	h := newRouter(svc)

	rec := do(t, h, http.MethodPost, "/internal/checkout/res-9/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "res-9", svc.cancelled)

	rec = do(t, h, http.MethodGet, "/internal/checkout/res-9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view d.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "res-9", view.ReservationID)
}

func TestUnknownErrorIsStorage(t *testing.T) {
	svc := &fakeCheckout{err: context.DeadlineExceeded}
	rec := do(t, newRouter(svc), http.MethodGet, "/internal/checkout/res-1", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage_error", decodeError(t, rec).Error)
}

func TestReconciliations(t *testing.T) {
	svc := &fakeCheckout{rows: []r.Reconciliation{{
		ReservationID:  "res-1",
		PaymentOrderID: "pp-res-1",
		CaptureID:      "cap-pp-res-1",
		Amount:         "50.00",
		Currency:       "USD",
		Reason:         "reservation_expired",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	rec := do(t, newRouter(svc), http.MethodGet, "/internal/checkout/reconciliations", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var out []ReconciliationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "cap-pp-res-1", out[0].CaptureID)
	assert.Equal(t, "2026-01-02T03:04:05Z", out[0].CreatedAt)
}
