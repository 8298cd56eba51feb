package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ndewijer/portfolio-snapshot/internal/app"
	"github.com/ndewijer/portfolio-snapshot/internal/config"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
	"github.com/ndewijer/portfolio-snapshot/internal/scheduler"
	"github.com/ndewijer/portfolio-snapshot/internal/version"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.SetGlobalLogger(logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	}))
	log.Info().
		Str("version", version.Version).
		Int("accounts", len(cfg.Accounts)).
		Str("base_currency", cfg.Snapshot.BaseCurrency).
		Msg("Starting portfolio snapshot server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// Start scheduler
	var sched *scheduler.Scheduler
	if cfg.Snapshot.Schedule != "" {
		sched = scheduler.New(log.Logger)
		job := scheduler.NewSnapshotJob(a.Coordinator, 0, log.Logger)
		if err := sched.AddJob(cfg.Snapshot.Schedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Snapshot.Schedule).Msg("Invalid snapshot schedule")
		}
		sched.Start()
	}

	// Create HTTP server. A trigger holds the request until the run is
	// terminal, so the write timeout leaves room for a full run.
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	if sched != nil {
		sched.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("Server exited")
}
