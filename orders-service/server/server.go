// Package server assembles the orders service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/orders-service/internal/consumer"
	ordershttp "github.com/fjod/go_cart_saga/orders-service/internal/http"
	"github.com/fjod/go_cart_saga/orders-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

type App struct {
	Handler http.Handler

	repo     *repository.Repository
	consumer *consumer.Consumer
}

// New connects to Postgres, applies migrations and builds the signed router.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	verifier, err := signing.NewVerifier(cfg.Signing.Secret, cfg.Signing.MaxSkew)
	if err != nil {
		return nil, err
	}

	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsDir,
	}
	repo, err := repository.NewRepository(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info().Msg("database migrations completed")

	app := &App{
		Handler: NewHandler(repo, verifier, metrics.NewServerMetrics(reg, "orders")),
		repo:    repo,
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		app.consumer = consumer.NewConsumer(repo, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
	}
	return app, nil
}

func NewHandler(repo repository.OrderRepository, verifier *signing.Verifier, m *metrics.ServerMetrics) http.Handler {
	r := httpx.NewRouter(m.Middleware)
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		ordershttp.NewOrdersHandler(repo).Routes(r)
	})
	return r
}

// Run consumes checkout events until ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.consumer == nil {
		<-ctx.Done()
		return
	}
	a.consumer.Run(ctx)
}

func (a *App) Close() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if err := a.repo.Close(); err != nil {
		log.Warn().Err(err).Msg("postgres close")
	}
}
