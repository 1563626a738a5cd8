package http

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// CartHandler exposes the caller's own cart. Every user has exactly one
// cart, keyed by the user id.
type CartHandler struct {
	carts remote.Service
}

func NewCartHandler(carts remote.Service) *CartHandler {
	return &CartHandler{carts: carts}
}

func (h *CartHandler) Routes(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Get("/summary", h.GetSummary)
		r.Post("/items", h.AddItem)
		r.Patch("/items", h.UpdateQuantity)
		r.Delete("/items", h.RemoveItem)
		r.Put("/address", h.update("/address"))
		r.Put("/shipping", h.update("/shipping"))
		r.Put("/coupon", h.update("/coupon"))
	})
}

func cartPath(r *http.Request, suffix string) string {
	return "/internal/carts/" + url.PathEscape(userIDFrom(r.Context())) + suffix
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	forward(w, r, h.carts, http.MethodGet, cartPath(r, "/"), nil, http.StatusOK)
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	forward(w, r, h.carts, http.MethodGet, cartPath(r, "/summary"), nil, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	forward(w, r, h.carts, http.MethodPost, cartPath(r, "/items"), body, http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	forward(w, r, h.carts, http.MethodPatch, cartPath(r, "/items"), body, http.StatusOK)
}

// RemoveItem takes the line from ?product_id=&variant_id=.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("product_id") == "" {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "product_id is required")
		return
	}
	query := url.Values{"product_id": {q.Get("product_id")}}
	if v := q.Get("variant_id"); v != "" {
		query.Set("variant_id", v)
	}
	forward(w, r, h.carts, http.MethodDelete, cartPath(r, "/items?"+query.Encode()), nil, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Call(r.Context(), http.MethodDelete, cartPath(r, "/"), nil, nil); err != nil {
		respondRemoteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// update forwards a PUT of a cart attribute (address, shipping, coupon).
func (h *CartHandler) update(suffix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		forward(w, r, h.carts, http.MethodPut, cartPath(r, suffix), body, http.StatusOK)
	}
}
