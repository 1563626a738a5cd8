package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/inventory-service/server"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/logger"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/telemetry"
)

const serviceName = "inventory-service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(logger.Config{Service: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer(context.Background())

	reg := prometheus.NewRegistry()
	app, err := server.New(cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start inventory service")
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", app.Handler)

	if err := httpx.Serve(ctx, serviceName, ":"+cfg.HTTP.Port, mux, cfg.HTTP.ShutdownTimeout); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("inventory service stopped")
}
