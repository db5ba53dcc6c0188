/**
 * Package di provides dependency injection wiring functionality.
 *
 * Wire is the single entry point: it opens the databases, builds the
 * repositories and services on top of them and registers the background
 * jobs. The returned Container owns every resource and must be closed.
 */
package di

import (
	"fmt"

	"github.com/aristath/evotrader/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize repositories
	if err := InitializeRepositories(container, cfg, log); err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// Step 3: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 4: Rebuild portfolios from their ledgers
	if err := container.PortfolioService.Load(); err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to load portfolios: %w", err)
	}

	// Step 5: Register jobs
	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed")
	return container, jobs, nil
}
