// Package server assembles the checkout orchestrator: saga store, payment
// adapter, collaborator remotes, signed routes and the outbox poller.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	checkouthttp "github.com/fjod/go_cart_saga/checkout-service/internal/http"
	"github.com/fjod/go_cart_saga/checkout-service/internal/payment"
	"github.com/fjod/go_cart_saga/checkout-service/internal/publisher"
	"github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/checkout-service/internal/service"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/remote"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

// Peers are the in-process handlers of collaborators configured in local
// mode, keyed by remote name (cart, inventory, orders).
type Peers map[string]http.Handler

type App struct {
	Handler http.Handler
	Service *service.CheckoutServiceImpl

	repo   *repository.Repository
	poller *publisher.OutboxPoller
}

func New(_ context.Context, cfg *config.Config, reg prometheus.Registerer, peers Peers) (*App, error) {
	verifier, err := signing.NewVerifier(cfg.Signing.Secret, cfg.Signing.MaxSkew)
	if err != nil {
		return nil, err
	}
	signer, err := signing.NewSigner(cfg.Signing.Secret)
	if err != nil {
		return nil, err
	}

	remoteMetrics := metrics.NewRemoteMetrics(reg, "checkout")
	remotes := make(map[string]remote.Service, 3)
	for _, name := range []string{"cart", "inventory", "orders"} {
		rc, ok := cfg.Remotes[name]
		if !ok {
			return nil, fmt.Errorf("remote %q is not configured", name)
		}
		svc, err := remote.New(name, rc, signer, peers[name], remoteMetrics)
		if err != nil {
			return nil, err
		}
		remotes[name] = svc
	}

	creds := &repository.Credentials{
		Path:              cfg.SQLite.Path,
		MigrationsDirPath: cfg.SQLite.MigrationsDir,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info().Str("path", creds.Path).Msg("saga store migrations completed")

	sagaMetrics := metrics.NewSagaMetrics(reg)
	svc := service.NewCheckoutService(
		repo,
		service.NewRemoteCart(remotes["cart"]),
		service.NewRemoteInventory(remotes["inventory"]),
		service.NewRemoteOrders(remotes["orders"]),
		payment.NewPayPal(cfg.PayPal, sagaMetrics),
		service.OptionsFromConfig(cfg, sagaMetrics),
	)

	var writer publisher.MessageWriter
	if len(cfg.Kafka.Brokers) > 0 {
		writer = publisher.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	} else {
		log.Warn().Msg("no kafka brokers configured, checkout events stay in the outbox")
	}
	poller := publisher.NewOutboxPoller(repo, svc, writer, publisher.Options{
		EventTick:    cfg.Saga.OutboxInterval,
		RecoveryTick: cfg.Saga.RecoveryInterval,
		StuckAfter:   cfg.Saga.StuckAfter,
	})

	return &App{
		Handler: NewHandler(svc, verifier, metrics.NewServerMetrics(reg, "checkout")),
		Service: svc,
		repo:    repo,
		poller:  poller,
	}, nil
}

func NewHandler(svc service.CheckoutService, verifier *signing.Verifier, m *metrics.ServerMetrics) http.Handler {
	r := httpx.NewRouter(m.Middleware)
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		checkouthttp.NewCheckoutHandler(svc).Routes(r)
	})
	return r
}

// Run publishes outbox events and recovers stuck sagas until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.poller.Run(ctx)
}

func (a *App) Close() {
	a.poller.Close()
	if err := a.repo.Close(); err != nil {
		log.Warn().Err(err).Msg("sqlite close")
	}
}
