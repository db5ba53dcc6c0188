package di

import (
	"context"
	"fmt"

	"github.com/aristath/evotrader/internal/clients/clickhouse"
	"github.com/aristath/evotrader/internal/clients/pricefeed"
	"github.com/aristath/evotrader/internal/clients/synthetic"
	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/deployment"
	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/evolution"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/risk"
	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/aristath/evotrader/internal/modules/trading"
	"github.com/aristath/evotrader/internal/reliability"
	"github.com/aristath/evotrader/internal/scheduler"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Event system
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	priceSource, err := newPriceSource(container, cfg, log)
	if err != nil {
		return err
	}
	container.PriceSource = priceSource

	container.Catalog = strategies.Default()

	// Portfolios are rebuilt from their ledger by Load, called once at startup
	container.PortfolioService = portfolio.NewService(
		container.PortfolioRepo,
		container.EventManager,
		cfg.Simulation.FeeRate,
		log,
	)

	container.Backtester = evolution.NewBacktester(
		container.Catalog,
		cfg.Evolution.BacktestCapital,
		cfg.Evolution.MinBars,
		log,
	)

	container.DeploymentBridge = deployment.NewBridge(
		container.PortfolioService,
		container.Catalog,
		container.DeploymentRepo,
		deployment.Config{
			InitialCapital: cfg.Simulation.InitialCapital,
			Symbols:        cfg.Evolution.Symbols,
		},
		container.EventManager,
		log,
	)

	ev := cfg.Evolution
	engine, err := evolution.NewEngine(
		evolution.Config{
			Strategy:          ev.Strategy,
			PopulationSize:    ev.PopulationSize,
			MutationRate:      ev.MutationRate,
			CrossoverRate:     ev.CrossoverRate,
			EliteRatio:        ev.EliteRatio,
			TournamentSize:    ev.TournamentSize,
			Interval:          ev.Interval,
			MaxGenerations:    ev.MaxGenerations,
			Workers:           ev.Workers,
			EvaluationTimeout: ev.EvaluationTimeout,
			AutoDeploy:        ev.AutoDeploy,
			Symbols:           ev.Symbols,
			CandleInterval:    ev.CandleInterval,
			CandleCount:       ev.CandleCount,
			PriceTimeout:      cfg.Simulation.PriceTimeout,
			Seed:              ev.Seed,
		},
		container.Catalog,
		container.Backtester,
		container.EvolutionStore,
		container.PriceSource,
		container.EventManager,
		log,
		evolution.WithDeployer(container.DeploymentBridge),
	)
	if err != nil {
		return fmt.Errorf("failed to create evolution engine: %w", err)
	}
	container.Engine = engine

	container.RiskGate = risk.NewGate(
		container.PortfolioService,
		container.PriceSource,
		cfg.Simulation.PriceTimeout,
		container.EventManager,
		log,
	)

	container.LiveTrader = trading.NewLiveTrader(
		container.PortfolioService,
		container.Catalog,
		container.PriceSource,
		trading.Config{
			Symbols:        ev.Symbols,
			CandleInterval: ev.CandleInterval,
			CandleCount:    ev.CandleCount,
			PriceTimeout:   cfg.Simulation.PriceTimeout,
		},
		log,
	)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup object store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(container.Databases(), store, cfg.DataDir, log)
	}

	container.Scheduler = scheduler.New(log)

	log.Info().Msg("Services initialized")
	return nil
}

// newPriceSource picks the market data backend: synthetic prices in
// simulation mode, otherwise the HTTP feed and/or the ClickHouse warehouse.
// With both configured, history comes from ClickHouse and quotes from the feed.
func newPriceSource(container *Container, cfg *config.Config, log zerolog.Logger) (domain.PriceSource, error) {
	if cfg.Simulation.Enabled {
		log.Info().Int64("seed", cfg.Evolution.Seed).Msg("Simulation mode: using synthetic prices")
		return synthetic.New(synthetic.Config{Seed: cfg.Evolution.Seed}, log), nil
	}

	var feed, warehouse domain.PriceSource
	if cfg.PriceSourceURL != "" {
		feed = pricefeed.NewClient(cfg.PriceSourceURL, container.CacheRepo, log)
	}
	if cfg.Storage.ClickHouseDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		source, err := clickhouse.Open(ctx, cfg.Storage.ClickHouseDSN, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize clickhouse candle source: %w", err)
		}
		container.closers = append(container.closers, source.Close)
		warehouse = source
	}

	switch {
	case feed != nil && warehouse != nil:
		return pricefeed.NewComposite(warehouse, feed), nil
	case feed != nil:
		return feed, nil
	case warehouse != nil:
		return warehouse, nil
	}
	return nil, fmt.Errorf("no price source configured")
}
