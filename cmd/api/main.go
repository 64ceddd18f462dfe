// Command api serves the forecasting and valuation engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quant_valuation/pkg/api/server"
	"quant_valuation/pkg/config"
	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/engine"
	"quant_valuation/pkg/core/ingest"
	"quant_valuation/pkg/logger"
)

func main() {
	cfgPath := flag.String("config", "", "Config file (default config/engine.yaml when present)")
	flag.Parse()

	// Bootstrap logger until the configured one is available
	log := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobalLogger(log)
	log.Info().Msg("Starting valuation engine API")

	ctx := context.Background()
	backend := calc.NewBackend(ctx, cfg.Backend.Kind, cfg.Backend.InitTimeout, log)

	srv := server.New(server.Config{
		Port:           cfg.Server.Port,
		Log:            log,
		Engine:         engine.New(backend, engine.OptionsFromConfig(cfg), log),
		Ingestor:       ingest.New(ingest.Options{BudgetRatio: cfg.Defaults.BudgetRatio}, log),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
