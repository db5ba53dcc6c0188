package di

import (
	"fmt"
	"time"

	"github.com/aristath/evotrader/internal/clientdata"
	"github.com/aristath/evotrader/internal/config"
	"github.com/aristath/evotrader/internal/reliability"
	"github.com/aristath/evotrader/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed schedules (cron with seconds field)
const (
	scheduleCacheCleanup   = "0 15 * * * *"   // hourly at :15
	scheduleCheckDatabases = "0 0 3 * * *"    // daily at 03:00
	scheduleWALCheckpoint  = "0 */30 * * * *" // every 30 minutes
	scheduleMaintenance    = "0 30 4 * * 0"   // Sundays at 04:30
)

type registration struct {
	schedule string
	job      scheduler.Job
}

// every turns an interval into a cron "@every" schedule, clamped to one second
func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}

// RegisterJobs creates every background job and registers it with the scheduler
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container and scheduler are required")
	}

	instances := &JobInstances{
		RiskGate:       container.RiskGate,
		LiveTrader:     container.LiveTrader,
		CacheCleanup:   clientdata.NewCleanupJob(container.CacheRepo, log),
		CheckDatabases: scheduler.NewCheckDatabasesJob(container.Databases(), log),
		WALCheckpoint:  scheduler.NewWALCheckpointJob(container.Databases(), log),
		Maintenance:    reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log),
	}
	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays)
	}

	registrations := []registration{
		{every(cfg.Simulation.RiskCheckInterval), instances.RiskGate},
		{every(cfg.Simulation.LiveTradingInterval), instances.LiveTrader},
		{scheduleCacheCleanup, instances.CacheCleanup},
		{scheduleCheckDatabases, instances.CheckDatabases},
		{scheduleWALCheckpoint, instances.WALCheckpoint},
		{scheduleMaintenance, instances.Maintenance},
	}
	if instances.Backup != nil {
		registrations = append(registrations, registration{cfg.Backup.Schedule, instances.Backup})
	}

	for _, r := range registrations {
		if err := container.Scheduler.AddJob(r.schedule, r.job); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", r.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(registrations)).Msg("Jobs registered")
	return instances, nil
}
