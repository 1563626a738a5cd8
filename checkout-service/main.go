package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/checkout-service/server"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/logger"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/telemetry"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(logger.Config{Service: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})
	log.Info().Msg("checkout-service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer(context.Background())

	// Collaborators are reached over HTTP here; local mode needs the
	// standalone binary.
	reg := prometheus.NewRegistry()
	app, err := server.New(ctx, cfg, reg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start checkout service")
	}
	defer app.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", app.Handler)

	if err := httpx.Serve(ctx, serviceName, ":"+cfg.HTTP.Port, mux, cfg.HTTP.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	stop()
	wg.Wait()
	log.Info().Msg("checkout service stopped")
}
