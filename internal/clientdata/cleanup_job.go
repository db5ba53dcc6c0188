package clientdata

import (
	"errors"

	"github.com/rs/zerolog"
)

// CleanupJob prunes expired candles and quotes from cache.db. A failing
// table does not stop the others from being pruned.
type CleanupJob struct {
	repo   *Repository
	tables []string
	log    zerolog.Logger
}

// NewCleanupJob creates the cache_cleanup job over every cache table
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:   repo,
		tables: AllTables,
		log:    log.With().Str("job", "cache_cleanup").Logger(),
	}
}

func (j *CleanupJob) Name() string { return "cache_cleanup" }

// Run deletes expired rows table by table and returns the joined errors
func (j *CleanupJob) Run() error {
	var (
		errs  []error
		total int64
	)
	for _, table := range j.tables {
		deleted, err := j.repo.DeleteExpired(table)
		if err != nil {
			j.log.Error().Err(err).Str("table", table).Msg("Failed to prune cache table")
			errs = append(errs, err)
			continue
		}
		if deleted > 0 {
			j.log.Debug().Str("table", table).Int64("deleted", deleted).Msg("Pruned expired entries")
		}
		total += deleted
	}

	evt := j.log.Debug()
	if total > 0 {
		evt = j.log.Info()
	}
	evt.Int64("deleted", total).Int("failed_tables", len(errs)).Msg("Cache cleanup finished")

	return errors.Join(errs...)
}
