package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/evotrader/internal/clientdata"
	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/deployment"
	"github.com/aristath/evotrader/internal/modules/evolution"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// connectTimeout bounds the initial health check of external stores
const connectTimeout = 10 * time.Second

// InitializeRepositories creates all repositories
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Evolution history: SQLite by default, Postgres when several hosts share a run
	switch cfg.Storage.EvolutionStore {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		repo, err := evolution.NewPostgresRepository(ctx, cfg.Storage.PostgresDSN, log)
		if err != nil {
			return fmt.Errorf("failed to initialize postgres evolution store: %w", err)
		}
		container.closers = append(container.closers, func() error {
			repo.Close()
			return nil
		})
		container.EvolutionStore = repo
	default:
		container.EvolutionStore = evolution.NewRepository(container.EvolutionDB.Conn(), log)
	}

	container.PortfolioRepo = portfolio.NewRepository(container.PortfolioDB.Conn(), log)
	container.DeploymentRepo = deployment.NewRepository(container.PortfolioDB.Conn(), log)
	container.CacheRepo = clientdata.NewRepository(container.CacheDB.Conn())

	log.Info().Str("evolution_store", cfg.Storage.EvolutionStore).Msg("Repositories initialized")
	return nil
}
