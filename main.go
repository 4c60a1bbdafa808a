package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"token-refresher/internal/app"
	"token-refresher/internal/common/logging"
	"token-refresher/internal/config"
)

func main() {
	// Load .env if present; environment variables take precedence.
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logger := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble worker", err)
		os.Exit(1)
	}
	defer application.Cleanup()

	application.Sweeper.Start()

	serverErr := make(chan error, 1)
	go func() {
		if err := application.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error("Operational server failed", err)
	case sig := <-quit:
		logger.Info("Shutdown signal received",
			logging.Field{Key: "signal", Value: sig.String()},
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Server.Shutdown(ctx); err != nil {
		logger.Warn("Operational server shutdown failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	// Cleanup (deferred) stops the sweeper, waiting for an in-flight sweep.
	logger.Info("Token refresher shutting down")
}
