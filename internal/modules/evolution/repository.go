package evolution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/evotrader/internal/database"
	"github.com/rs/zerolog"
)

// Repository is the SQLite Store backed by evolution.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new evolution repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "evolution").Logger(),
	}
}

const genomeColumns = `id, generation, strategy, parameters, fitness, metrics, parent_ids, created_at`

// SaveGeneration writes stats and genomes in one transaction. Rewriting the
// same generation replaces the earlier rows, so retries are safe.
func (r *Repository) SaveGeneration(ctx context.Context, stats GenerationStats, genomes []*Genome) error {
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

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO generation_stats
				(generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			stats.Generation, stats.BestFitness, stats.AverageFitness, stats.WorstFitness,
			stats.BestGenomeID, stats.PopulationSize, stats.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert generation stats: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO genomes (`+genomeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare genome insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.args()...); err != nil {
				return fmt.Errorf("failed to insert genome %s: %w", row.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save generation %d: %w", stats.Generation, err)
	}

	r.log.Debug().
		Int("generation", stats.Generation).
		Int("genomes", len(genomes)).
		Msg("Generation saved")
	return nil
}

// LatestStats returns the stats of the highest generation
func (r *Repository) LatestStats(ctx context.Context) (*GenerationStats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at
		FROM generation_stats ORDER BY generation DESC LIMIT 1`)

	stats, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest generation stats: %w", err)
	}
	return &stats, nil
}

// History returns the most recent limit generations, oldest first
func (r *Repository) History(ctx context.Context, limit int) ([]GenerationStats, error) {
	query := `
		SELECT generation, best_fitness, average_fitness, worst_fitness, best_genome_id, population_size, created_at
		FROM (SELECT * FROM generation_stats ORDER BY generation DESC LIMIT ?)
		ORDER BY generation ASC`
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	var out []GenerationStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation stats: %w", err)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation stats: %w", err)
	}
	return out, nil
}

// BestGenome returns the fittest genome ever stored
func (r *Repository) BestGenome(ctx context.Context) (*Genome, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+genomeColumns+` FROM genomes
		WHERE fitness IS NOT NULL
		ORDER BY fitness DESC, generation ASC, id ASC LIMIT 1`)

	g, err := scanGenome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get best genome: %w", err)
	}
	return g, nil
}

// GenomesByGeneration returns a generation's genomes, fittest first
func (r *Repository) GenomesByGeneration(ctx context.Context, generation int) ([]*Genome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+genomeColumns+` FROM genomes
		WHERE generation = ?
		ORDER BY fitness IS NULL, fitness DESC, id ASC`, generation)
	if err != nil {
		return nil, fmt.Errorf("failed to query genomes for generation %d: %w", generation, err)
	}
	defer rows.Close()

	var out []*Genome
	for rows.Next() {
		g, err := scanGenome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan genome: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genomes: %w", err)
	}
	return out, nil
}

// GetGenome returns one genome by id and generation
func (r *Repository) GetGenome(ctx context.Context, id string, generation int) (*Genome, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+genomeColumns+` FROM genomes WHERE id = ? AND generation = ?`, id, generation)

	g, err := scanGenome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s (generation %d)", ErrGenomeNotFound, id, generation)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get genome %s: %w", id, err)
	}
	return g, nil
}

// BestFitnessEver returns the highest generation best fitness
func (r *Repository) BestFitnessEver(ctx context.Context) (*float64, error) {
	var best sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(best_fitness) FROM generation_stats`).Scan(&best); err != nil {
		return nil, fmt.Errorf("failed to query best fitness: %w", err)
	}
	if !best.Valid {
		return nil, nil
	}
	return &best.Float64, nil
}

// genomeRow is the column encoding shared by the SQL stores
type genomeRow struct {
	id         string
	generation int
	strategy   string
	parameters string
	fitness    sql.NullFloat64
	metrics    sql.NullString
	parentIDs  string
	createdAt  int64
}

func (r genomeRow) args() []interface{} {
	return []interface{}{r.id, r.generation, r.strategy, r.parameters, r.fitness, r.metrics, r.parentIDs, r.createdAt}
}

func encodeGenome(g *Genome) (genomeRow, error) {
	params, err := json.Marshal(g.Parameters)
	if err != nil {
		return genomeRow{}, fmt.Errorf("failed to encode parameters of %s: %w", g.ID, err)
	}
	parents := g.ParentIDs
	if parents == nil {
		parents = []string{}
	}
	parentJSON, err := json.Marshal(parents)
	if err != nil {
		return genomeRow{}, fmt.Errorf("failed to encode parents of %s: %w", g.ID, err)
	}

	row := genomeRow{
		id:         g.ID,
		generation: g.Generation,
		strategy:   g.Strategy,
		parameters: string(params),
		parentIDs:  string(parentJSON),
		createdAt:  g.CreatedAt.Unix(),
	}
	if g.Fitness != nil && g.Metrics != nil {
		metrics, err := json.Marshal(g.Metrics)
		if err != nil {
			return genomeRow{}, fmt.Errorf("failed to encode metrics of %s: %w", g.ID, err)
		}
		row.fitness = sql.NullFloat64{Float64: *g.Fitness, Valid: true}
		row.metrics = sql.NullString{String: string(metrics), Valid: true}
	}
	return row, nil
}

func (r genomeRow) decode() (*Genome, error) {
	g := &Genome{
		ID:         r.id,
		Generation: r.generation,
		Strategy:   r.strategy,
		CreatedAt:  time.Unix(r.createdAt, 0),
	}
	if err := json.Unmarshal([]byte(r.parameters), &g.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters of %s: %w", r.id, err)
	}
	if r.parentIDs != "" {
		if err := json.Unmarshal([]byte(r.parentIDs), &g.ParentIDs); err != nil {
			return nil, fmt.Errorf("failed to decode parents of %s: %w", r.id, err)
		}
	}
	// Fitness and metrics only ever appear together
	if r.fitness.Valid && r.metrics.Valid {
		var m Metrics
		if err := json.Unmarshal([]byte(r.metrics.String), &m); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of %s: %w", r.id, err)
		}
		f := r.fitness.Float64
		g.Fitness = &f
		g.Metrics = &m
	}
	return g, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGenome(s scanner) (*Genome, error) {
	var row genomeRow
	if err := s.Scan(&row.id, &row.generation, &row.strategy, &row.parameters, &row.fitness,
		&row.metrics, &row.parentIDs, &row.createdAt); err != nil {
		return nil, err
	}
	return row.decode()
}

func scanStats(s scanner) (GenerationStats, error) {
	var (
		st        GenerationStats
		createdAt int64
	)
	if err := s.Scan(&st.Generation, &st.BestFitness, &st.AverageFitness, &st.WorstFitness,
		&st.BestGenomeID, &st.PopulationSize, &createdAt); err != nil {
		return GenerationStats{}, err
	}
	st.CreatedAt = time.Unix(createdAt, 0)
	return st, nil
}
