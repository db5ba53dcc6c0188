// Package main is the entry point for evotrader, a genetic-algorithm
// strategy evolution engine with virtual portfolio trading.
//
// The application evolves trading strategy parameters generation by
// generation, deploys winning genomes onto virtual portfolios and trades
// them against live (or synthetic) prices behind a stop-loss/take-profit
// risk gate.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/di"
	"github.com/aristath/evotrader/internal/server"
	"github.com/aristath/evotrader/pkg/logger"
)

// main is the application entry point. It orchestrates the startup sequence:
//  1. Loads configuration from environment variables (.env supported)
//  2. Initializes logging
//  3. Wires all dependencies via the DI container (databases, repositories,
//     services, jobs) and replays portfolio ledgers
//  4. Starts the job scheduler (risk gate, live trader, maintenance, backups)
//  5. Starts the HTTP server
//  6. Starts the evolution engine
//  7. Waits for a shutdown signal and shuts down in reverse order
//
// The application uses a 3-database architecture:
// - evolution.db: generation statistics and every evaluated genome
// - portfolio.db: virtual portfolios, append-only trade ledger, deployments
// - cache.db: market data cache (safe to lose)
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Bool("simulation", cfg.Simulation.Enabled).
		Str("strategy", cfg.Evolution.Strategy).
		Strs("symbols", cfg.Evolution.Symbols).
		Msg("Starting evotrader")

	// Wire all dependencies. Portfolios are rebuilt from their ledgers
	// before any job can trade on them.
	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Risk gate and live trader run on the scheduler from here on
	container.Scheduler.Start()
	log.Info().Strs("jobs", container.Scheduler.Jobs()).Msg("Background jobs scheduled")

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DataDir:      cfg.DataDir,
		PriceTimeout: cfg.Simulation.PriceTimeout,
		Container:    container,
		Jobs:         jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// The engine loops until stopped or MaxGenerations is reached
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := container.Engine.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("Evolution engine stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the engine first; an evaluation in flight finishes and is persisted
	container.Engine.Stop()
	select {
	case <-engineDone:
		log.Info().Msg("Evolution engine stopped")
	case <-time.After(cfg.Evolution.EvaluationTimeout + 10*time.Second):
		log.Warn().Msg("Evolution engine did not stop in time")
	}

	// Waits for running jobs to finish
	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Closes databases last so WAL checkpoints are written
	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close resources")
	}

	log.Info().Msg("Server stopped")
}
