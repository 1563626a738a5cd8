// Package server assembles the inventory service.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart_saga/inventory-service/internal/domain"
	invhttp "github.com/fjod/go_cart_saga/inventory-service/internal/http"
	"github.com/fjod/go_cart_saga/inventory-service/internal/store"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

type App struct {
	Handler http.Handler

	store *store.MemoryStore
}

// New seeds an in-memory store from cfg.Inventory.Stock.
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	verifier, err := signing.NewVerifier(cfg.Signing.Secret, cfg.Signing.MaxSkew)
	if err != nil {
		return nil, err
	}

	memStore := store.NewMemoryStore(cfg.Inventory.ReservationTTL, domain.NewServiceability(cfg.Inventory.ServiceableCountries))
	for sku, stock := range cfg.Inventory.Stock {
		price, err := decimal.NewFromString(stock.Price)
		if err != nil {
			memStore.Close()
			return nil, fmt.Errorf("stock %s: bad price %q: %w", sku, stock.Price, err)
		}
		if err := memStore.SetStock(sku, stock.Quantity, price); err != nil {
			memStore.Close()
			return nil, err
		}
	}
	log.Info().Int("skus", len(cfg.Inventory.Stock)).Msg("initialized stock")

	return &App{
		Handler: NewHandler(memStore, verifier, metrics.NewServerMetrics(reg, "inventory")),
		store:   memStore,
	}, nil
}

func NewHandler(s store.InventoryStore, verifier *signing.Verifier, m *metrics.ServerMetrics) http.Handler {
	r := httpx.NewRouter(m.Middleware)
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		invhttp.NewInventoryHandler(s).Routes(r)
	})
	return r
}

func (a *App) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("inventory store close")
	}
}
