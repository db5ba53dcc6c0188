package di

import (
	"sort"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/clients/synthetic"
	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:  t.TempDir(),
		LogLevel: "info",
		Port:     8001,
		Evolution: config.EvolutionConfig{
			PopulationSize:    4,
			MutationRate:      0.1,
			CrossoverRate:     0.8,
			EliteRatio:        0.25,
			TournamentSize:    3,
			Interval:          time.Second,
			Strategy:          "indicator_threshold",
			Workers:           2,
			EvaluationTimeout: 5 * time.Second,
			Symbols:           []string{"AAA", "BBB"},
			CandleInterval:    "1d",
			CandleCount:       100,
			MinBars:           30,
			BacktestCapital:   1_000_000,
			Seed:              42,
		},
		Simulation: config.SimulationConfig{
			Enabled:             true,
			InitialCapital:      1_000_000,
			RiskCheckInterval:   5 * time.Second,
			LiveTradingInterval: time.Minute,
			PriceTimeout:        time.Second,
		},
		Storage: config.StorageConfig{EvolutionStore: "sqlite"},
		Backup:  config.BackupConfig{Schedule: "@daily"},
	}
}

func TestWire_SimulationMode(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.EvolutionDB)
	assert.NotNil(t, container.PortfolioDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.EventManager)
	assert.NotNil(t, container.Engine)
	assert.NotNil(t, container.RiskGate)
	assert.NotNil(t, container.LiveTrader)
	assert.NotNil(t, container.DeploymentBridge)
	assert.Nil(t, container.BackupService, "backups stay off without a bucket")

	_, ok := container.PriceSource.(*synthetic.Source)
	assert.True(t, ok, "simulation mode uses synthetic prices")

	names := make([]string, 0)
	for name := range jobs.All() {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"cache_cleanup", "check_databases", "live_trader", "maintenance", "risk_gate", "wal_checkpoint",
	}, names)
	assert.Equal(t, names, container.Scheduler.Jobs())
}

func TestWire_UnknownStrategyClosesDatabases(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evolution.Strategy = "does_not_exist"

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, container)
	assert.Nil(t, jobs)
	assert.Contains(t, err.Error(), "failed to initialize services")
}

func TestWire_ReloadsPortfolios(t *testing.T) {
	cfg := testConfig(t)

	first, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	p, err := first.PortfolioService.Create("reload-me", 5000, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.PortfolioService.Get(p.ID())
	require.NoError(t, err)
	assert.Equal(t, "reload-me", loaded.Meta().Name)
}

func TestContainer_Databases(t *testing.T) {
	container, err := InitializeDatabases(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	dbs := container.Databases()
	require.Len(t, dbs, 3)
	for _, name := range []string{database.NameEvolution, database.NamePortfolio, database.NameCache} {
		require.Contains(t, dbs, name)
		assert.Equal(t, name, dbs[name].Name())
	}
}

func TestContainer_CloseIsIdempotent(t *testing.T) {
	container, err := InitializeDatabases(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, container.Close())
	require.NoError(t, container.Close())
	assert.Empty(t, container.Databases())
}

func TestNewPriceSource_RequiresBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulation.Enabled = false

	_, err := newPriceSource(&Container{}, cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", every(5*time.Second))
	assert.Equal(t, "@every 1s", every(10*time.Millisecond))
	assert.Equal(t, "@every 1m0s", every(time.Minute))
}
