package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

const maxPageSize = 100

type OrdersHandler struct {
	orders remote.Service
}

func NewOrdersHandler(orders remote.Service) *OrdersHandler {
	return &OrdersHandler{orders: orders}
}

func (h *OrdersHandler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Get("/{orderID}", h.GetOrder)
	})
}

// ListOrders pages through the caller's orders, newest first.
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := url.Values{"user_id": {userIDFrom(r.Context())}}
	for _, name := range []string{"limit", "offset"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || (name == "limit" && n > maxPageSize) {
			httpx.RespondError(w, http.StatusBadRequest, "validation_error", name+" is out of range")
			return
		}
		query.Set(name, raw)
	}
	forward(w, r, h.orders, http.MethodGet, "/internal/orders/?"+query.Encode(), nil, http.StatusOK)
}

// GetOrder answers not_found for orders of other users.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	var out json.RawMessage
	path := "/internal/orders/" + url.PathEscape(chi.URLParam(r, "orderID"))
	if err := h.orders.Call(r.Context(), http.MethodGet, path, nil, &out); err != nil {
		respondRemoteErr(w, r, err)
		return
	}
	var owner struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(out, &owner); err != nil || owner.UserID != userIDFrom(r.Context()) {
		httpx.RespondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	writeRaw(w, http.StatusOK, out)
}
