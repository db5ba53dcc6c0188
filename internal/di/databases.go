// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	dbs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// evolution.db - every generation and genome ever evaluated
		{database.NameEvolution, database.ProfileStandard, &container.EvolutionDB},
		// portfolio.db - append-only trade ledger needs maximum safety
		{database.NamePortfolio, database.ProfileLedger, &container.PortfolioDB},
		// cache.db - market data, safe to lose
		{database.NameCache, database.ProfileCache, &container.CacheDB},
	}

	for _, d := range dbs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, d.name+".db"),
			Profile: d.profile,
			Name:    d.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", d.name, err)
		}
		*d.target = db

		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", d.name, err)
		}
		log.Debug().Str("database", d.name).Msg("Database ready")
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
