// Package server assembles the public API gateway. Every downstream call goes
// through pkg/remote and is signed.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	gatewayhttp "github.com/fjod/go_cart_saga/api-gateway/internal/http"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/remote"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

// Peers are in-process handlers for remotes configured in local mode.
type Peers map[string]http.Handler

type Remotes struct {
	Cart     remote.Service
	Checkout remote.Service
	Orders   remote.Service
}

func New(cfg *config.Config, reg prometheus.Registerer, peers Peers) (http.Handler, error) {
	signer, err := signing.NewSigner(cfg.Signing.Secret)
	if err != nil {
		return nil, err
	}
	m := metrics.NewRemoteMetrics(reg, "gateway")

	build := func(name string) (remote.Service, error) {
		rc, ok := cfg.Remotes[name]
		if !ok {
			return nil, fmt.Errorf("remote %q is not configured", name)
		}
		return remote.New(name, rc, signer, peers[name], m)
	}
	var remotes Remotes
	if remotes.Cart, err = build("cart"); err != nil {
		return nil, err
	}
	if remotes.Checkout, err = build("checkout"); err != nil {
		return nil, err
	}
	if remotes.Orders, err = build("orders"); err != nil {
		return nil, err
	}
	return NewHandler(remotes, cfg.HTTP.RequestTimeout, metrics.NewServerMetrics(reg, "gateway")), nil
}

func NewHandler(remotes Remotes, timeout time.Duration, m *metrics.ServerMetrics) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := httpx.NewRouter(m.Middleware, middleware.Timeout(timeout), middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(gatewayhttp.MockAuthMiddleware)
		gatewayhttp.NewCartHandler(remotes.Cart).Routes(r)
		gatewayhttp.NewCheckoutHandler(remotes.Checkout).Routes(r)
		gatewayhttp.NewOrdersHandler(remotes.Orders).Routes(r)
	})
	return r
}
