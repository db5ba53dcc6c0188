/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to handlers for access to services.
 */
package di

import (
	"github.com/aristath/evotrader/internal/clientdata"
	"github.com/aristath/evotrader/internal/database"
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
)

// Container holds all application dependencies
type Container struct {
	// Databases
	EvolutionDB *database.DB // evolution.db - generation stats and genomes
	PortfolioDB *database.DB // portfolio.db - virtual portfolios, trade ledger, deployments
	CacheDB     *database.DB // cache.db - market data cache

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Market data
	CacheRepo   *clientdata.Repository
	PriceSource domain.PriceSource

	// Repositories
	EvolutionStore evolution.Store
	PortfolioRepo  *portfolio.Repository
	DeploymentRepo *deployment.Repository

	// Services
	Catalog          *strategies.Catalog
	PortfolioService *portfolio.Service
	Backtester       *evolution.Backtester
	DeploymentBridge *deployment.Bridge
	Engine           *evolution.Engine
	RiskGate         *risk.Gate
	LiveTrader       *trading.LiveTrader
	BackupService    *reliability.BackupService // nil when backups are not configured

	Scheduler *scheduler.Scheduler

	// closers release external connections (Postgres, ClickHouse) on Close
	closers []func() error
}

// JobInstances holds references to all registered jobs
type JobInstances struct {
	RiskGate       scheduler.Job
	LiveTrader     scheduler.Job
	CacheCleanup   scheduler.Job
	CheckDatabases scheduler.Job
	WALCheckpoint  scheduler.Job
	Maintenance    scheduler.Job
	Backup         scheduler.Job // nil when backups are not configured
}

// All returns the registered jobs by name
func (j *JobInstances) All() map[string]scheduler.Job {
	out := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{
		j.RiskGate, j.LiveTrader, j.CacheCleanup, j.CheckDatabases, j.WALCheckpoint, j.Maintenance, j.Backup,
	} {
		if job != nil {
			out[job.Name()] = job
		}
	}
	return out
}

// Databases returns the SQLite databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	out := make(map[string]*database.DB)
	if c.EvolutionDB != nil {
		out[database.NameEvolution] = c.EvolutionDB
	}
	if c.PortfolioDB != nil {
		out[database.NamePortfolio] = c.PortfolioDB
	}
	if c.CacheDB != nil {
		out[database.NameCache] = c.CacheDB
	}
	return out
}

// Close stops background loops and releases every connection.
// Returns the first error encountered.
func (c *Container) Close() error {
	if c.RiskGate != nil {
		c.RiskGate.Close()
	}
	if c.LiveTrader != nil {
		c.LiveTrader.Close()
	}

	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil

	for _, db := range []*database.DB{c.CacheDB, c.PortfolioDB, c.EvolutionDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.EvolutionDB, c.PortfolioDB, c.CacheDB = nil, nil, nil
	return firstErr
}
