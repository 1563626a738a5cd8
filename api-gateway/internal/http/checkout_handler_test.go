package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart_saga/pkg/remote"
)

func checkoutFake() *fakeRemote {
	return newFakeRemote().
		on(http.MethodPost, "/internal/checkout/", map[string]any{
			"reservation_id":   "res-1",
			"payment_order_id": "pp-1",
			"approve_url":      "https://paypal.test/approve?token=pp-1",
			"state":            "PaymentCreated",
		}).
		on(http.MethodGet, "/internal/checkout/res-1", map[string]any{
			"reservation_id": "res-1",
			"cart_id":        "u1",
			"state":          "PaymentCreated",
		}).
		on(http.MethodPost, "/internal/checkout/capture", map[string]any{
			"order_id":       "order-1",
			"status":         "OrderCreated",
			"reservation_id": "res-1",
		})
}

func TestStartCheckout_UsesCallersCart(t *testing.T) {
	checkout := checkoutFake()
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout",
		`{"email":"buyer@example.com","return_url":"https://shop.test/return"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var sent startCheckoutCall
	require.NoError(t, json.Unmarshal(checkout.last().Body, &sent))
	assert.Equal(t, "u1", sent.CartID)
	assert.Equal(t, "u1", sent.UserID)
	assert.Equal(t, "https://shop.test/return", sent.ReturnURL)

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "pp-1", res["payment_order_id"])
}

func TestStartCheckout_PassesSagaErrors(t *testing.T) {
	checkout := newFakeRemote().fail(http.MethodPost, "/internal/checkout/", &remote.Error{
		Remote:  "checkout",
		Status:  http.StatusConflict,
		Code:    "reservation_failed",
		Details: json.RawMessage(`{"reason":"out_of_stock"}`),
	})
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout", `{}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, "reservation_failed", body.Error)
	assert.Equal(t, map[string]any{"reason": "out_of_stock"}, body.Details)
}

func TestCapture_ChecksOwnership(t *testing.T) {
	checkout := checkoutFake()
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "someone-else", http.MethodPost, "/api/v1/checkout/capture",
		`{"reservation_id":"res-1","payment_order_id":"pp-1"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.MethodGet, checkout.last().Method)
}

func TestCapture_Forwards(t *testing.T) {
	checkout := checkoutFake()
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout/capture",
		`{"reservation_id":"res-1","payment_order_id":"pp-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/internal/checkout/capture", checkout.last().Path)
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "order-1", res["order_id"])
}

func TestReturn_UsesProcessorToken(t *testing.T) {
	checkout := checkoutFake()
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodGet,
		"/api/v1/checkout/return?reservation_id=res-1&token=pp-1&PayerID=X", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var sent CaptureRequest
	require.NoError(t, json.Unmarshal(checkout.last().Body, &sent))
	assert.Equal(t, CaptureRequest{ReservationID: "res-1", PaymentOrderID: "pp-1"}, sent)
}

func TestCapture_MissingIDs(t *testing.T) {
	checkout := checkoutFake()
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout/capture", `{"reservation_id":"res-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, checkout.count())
}

func TestCapture_PostCaptureFailureKeepsFlag(t *testing.T) {
	checkout := checkoutFake().fail(http.MethodPost, "/internal/checkout/capture", errors.Join(remote.ErrUnavailable, &remote.Error{
		Remote:  "checkout",
		Status:  http.StatusInternalServerError,
		Code:    "post_capture_inventory_failure",
		Details: json.RawMessage(`{"payment_captured":true,"reservation_id":"res-1"}`),
	}))
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout/capture",
		`{"reservation_id":"res-1","payment_order_id":"pp-1"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, "post_capture_inventory_failure", body.Error)
	details, ok := body.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["payment_captured"])
}

func TestStatus(t *testing.T) {
	checkout := checkoutFake()
	h := newRouter(NewCheckoutHandler(checkout))

	rec := do(t, h, "u1", http.MethodGet, "/api/v1/checkout/res-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "u2", http.MethodGet, "/api/v1/checkout/res-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	checkout := checkoutFake().on(http.MethodPost, "/internal/checkout/res-1/cancel", map[string]any{
		"reservation_id": "res-1",
		"state":          "Failed",
		"failure_kind":   "payment_cancelled",
	})
	rec := do(t, newRouter(NewCheckoutHandler(checkout)), "u1", http.MethodPost, "/api/v1/checkout/res-1/cancel", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/internal/checkout/res-1/cancel", checkout.last().Path)
}
