package evolution

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS generation_stats (
    generation INTEGER PRIMARY KEY,
    best_fitness DOUBLE PRECISION NOT NULL,
    average_fitness DOUBLE PRECISION NOT NULL,
    worst_fitness DOUBLE PRECISION NOT NULL,
    best_genome_id TEXT NOT NULL,
    population_size INTEGER NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS genomes (
    id TEXT NOT NULL,
    generation INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    parameters TEXT NOT NULL,
    fitness DOUBLE PRECISION,
    metrics TEXT,
    parent_ids TEXT NOT NULL DEFAULT '[]',
    created_at BIGINT NOT NULL,
    PRIMARY KEY (id, generation)
);

CREATE INDEX IF NOT EXISTS idx_genomes_generation ON genomes(generation);
CREATE INDEX IF NOT EXISTS idx_genomes_fitness ON genomes(fitness DESC NULLS LAST);
`

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// PostgresRepository is a Store on PostgreSQL, for deployments that share
// evolution history between hosts
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository connects to dsn and creates the schema if needed
func NewPostgresRepository(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate evolution schema: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
		log:  log.With().Str("repo", "evolution_postgres").Logger(),
	}, nil
}

// Close closes the connection pool
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveGeneration writes stats and genomes in one transaction; a retried
// write of the same generation overwrites the earlier rows
func (r *PostgresRepository) SaveGeneration(ctx context.Context, stats GenerationStats, genomes []*Genome) error {
	rows := make([]genomeRow, len(genomes))
	for i, g := range genomes {
		if g.Generation != stats.Generation {
			return fmt.Errorf("genome %s belongs to generation %d, not %d", g.ID, g.Generation, stats.Generation)
		}
		row, err := encodeGenome(g)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO generation_stats
			(generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (generation) DO UPDATE SET
			best_fitness = EXCLUDED.best_fitness,
			average_fitness = EXCLUDED.average_fitness,
			worst_fitness = EXCLUDED.worst_fitness,
			best_genome_id = EXCLUDED.best_genome_id,
			population_size = EXCLUDED.population_size,
			created_at = EXCLUDED.created_at`,
		stats.Generation, stats.BestFitness, stats.AverageFitness, stats.WorstFitness,
		stats.BestGenomeID, stats.PopulationSize, stats.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert generation stats: %w", err)
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO genomes (`+genomeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id, generation) DO UPDATE SET
				strategy = EXCLUDED.strategy,
				parameters = EXCLUDED.parameters,
				fitness = EXCLUDED.fitness,
				metrics = EXCLUDED.metrics,
				parent_ids = EXCLUDED.parent_ids,
				created_at = EXCLUDED.created_at`,
			row.args()...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("duplicate genome in generation %d: %w", stats.Generation, err)
		}
		return fmt.Errorf("insert genomes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LatestStats returns the stats of the highest generation
func (r *PostgresRepository) LatestStats(ctx context.Context) (*GenerationStats, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at
		FROM generation_stats ORDER BY generation DESC LIMIT 1`)

	stats, err := scanStats(row)
	if isNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest generation stats: %w", err)
	}
	return &stats, nil
}

// History returns the most recent limit generations, oldest first
func (r *PostgresRepository) History(ctx context.Context, limit int) ([]GenerationStats, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.pool.Query(ctx, `
			SELECT generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at
			FROM (SELECT * FROM generation_stats ORDER BY generation DESC LIMIT $1) recent
			ORDER BY generation ASC`, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at
			FROM generation_stats ORDER BY generation ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("query generation history: %w", err)
	}
	defer rows.Close()

	var out []GenerationStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation stats: %w", err)
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// BestGenome returns the fittest genome ever stored
func (r *PostgresRepository) BestGenome(ctx context.Context) (*Genome, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+genomeColumns+` FROM genomes
		WHERE fitness IS NOT NULL
		ORDER BY fitness DESC, generation ASC, id ASC LIMIT 1`)

	g, err := scanGenome(row)
	if isNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get best genome: %w", err)
	}
	return g, nil
}

// GenomesByGeneration returns a generation's genomes, fittest first
func (r *PostgresRepository) GenomesByGeneration(ctx context.Context, generation int) ([]*Genome, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+genomeColumns+` FROM genomes
		WHERE generation = $1
		ORDER BY fitness DESC NULLS LAST, id ASC`, generation)
	if err != nil {
		return nil, fmt.Errorf("query genomes for generation %d: %w", generation, err)
	}
	defer rows.Close()

	var out []*Genome
	for rows.Next() {
		g, err := scanGenome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan genome: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGenome returns one genome by id and generation
func (r *PostgresRepository) GetGenome(ctx context.Context, id string, generation int) (*Genome, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+genomeColumns+` FROM genomes WHERE id = $1 AND generation = $2`, id, generation)

	g, err := scanGenome(row)
	if isNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s (generation %d)", ErrGenomeNotFound, id, generation)
	}
	if err != nil {
		return nil, fmt.Errorf("get genome %s: %w", id, err)
	}
	return g, nil
}

// BestFitnessEver returns the highest generation best fitness
func (r *PostgresRepository) BestFitnessEver(ctx context.Context) (*float64, error) {
	var best *float64
	if err := r.pool.QueryRow(ctx, `SELECT MAX(best_fitness) FROM generation_stats`).Scan(&best); err != nil {
		return nil, fmt.Errorf("query best fitness: %w", err)
	}
	return best, nil
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
