package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finsync/internal/api"
	"github.com/dvloznov/finsync/internal/bootstrap"
	"github.com/dvloznov/finsync/internal/config"
	"github.com/dvloznov/finsync/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "config file (default $FINSYNC_CONFIG)")
		addr       = flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Invalid log configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}
	defer app.Close()

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewHandler(app.Sync, app.Snapshots, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close engine")
	}

	log.Info().Msg("Server exited")
}
