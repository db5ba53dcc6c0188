package deployment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Repository stores deployments in portfolio.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new deployment repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "deployment").Logger(),
	}
}

const deploymentColumns = `genome_id, generation, portfolio_id, strategy, fitness, auto, deployed_at`

// Record inserts or refreshes a deployment
func (r *Repository) Record(ctx context.Context, d Deployment) error {
	var fitness sql.NullFloat64
	if d.Fitness != nil {
		fitness = sql.NullFloat64{Float64: *d.Fitness, Valid: true}
	}
	auto := 0
	if d.Auto {
		auto = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (genome_id, portfolio_id) DO UPDATE SET
			generation = excluded.generation,
			strategy = excluded.strategy,
			fitness = excluded.fitness,
			auto = excluded.auto,
			deployed_at = excluded.deployed_at`,
		d.GenomeID, d.Generation, d.PortfolioID, d.Strategy, fitness, auto, d.DeployedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment of %s to %s: %w", d.GenomeID, d.PortfolioID, err)
	}
	return nil
}

// ByGenome returns every portfolio a genome was deployed to, newest first
func (r *Repository) ByGenome(ctx context.Context, genomeID string) ([]Deployment, error) {
	return r.query(ctx, `SELECT `+deploymentColumns+` FROM deployments
		WHERE genome_id = ? ORDER BY deployed_at DESC, rowid DESC`, genomeID)
}

// LatestAuto returns the most recent auto-deployment
func (r *Repository) LatestAuto(ctx context.Context) (*Deployment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments
		WHERE auto = 1 ORDER BY deployed_at DESC, rowid DESC LIMIT 1`)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest auto-deployment: %w", err)
	}
	return &d, nil
}

// List returns every deployment, newest first
func (r *Repository) List(ctx context.Context) ([]Deployment, error) {
	return r.query(ctx, `SELECT `+deploymentColumns+` FROM deployments ORDER BY deployed_at DESC, rowid DESC`)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]Deployment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(s scanner) (Deployment, error) {
	var (
		d          Deployment
		fitness    sql.NullFloat64
		auto       int
		deployedAt int64
	)
	if err := s.Scan(&d.GenomeID, &d.Generation, &d.PortfolioID, &d.Strategy, &fitness, &auto, &deployedAt); err != nil {
		return Deployment{}, err
	}
	if fitness.Valid {
		f := fitness.Float64
		d.Fitness = &f
	}
	d.Auto = auto == 1
	d.DeployedAt = time.UnixMilli(deployedAt)
	return d, nil
}

// MemoryStore keeps deployments in process, for a bridge without portfolio.db
type MemoryStore struct {
	mu          sync.RWMutex
	deployments []Deployment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record inserts or refreshes a deployment
func (m *MemoryStore) Record(_ context.Context, d Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.deployments {
		if existing.GenomeID == d.GenomeID && existing.PortfolioID == d.PortfolioID {
			m.deployments[i] = d
			return nil
		}
	}
	m.deployments = append(m.deployments, d)
	return nil
}

// ByGenome returns a genome's deployments, newest first
func (m *MemoryStore) ByGenome(ctx context.Context, genomeID string) ([]Deployment, error) {
	all, _ := m.List(ctx)
	var out []Deployment
	for _, d := range all {
		if d.GenomeID == genomeID {
			out = append(out, d)
		}
	}
	return out, nil
}

// LatestAuto returns the newest auto-deployment
func (m *MemoryStore) LatestAuto(ctx context.Context) (*Deployment, error) {
	all, _ := m.List(ctx)
	for _, d := range all {
		if d.Auto {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

// List returns every deployment, newest first
func (m *MemoryStore) List(_ context.Context) ([]Deployment, error) {
	m.mu.RLock()
	out := make([]Deployment, 0, len(m.deployments))
	for i := len(m.deployments) - 1; i >= 0; i-- {
		out = append(out, m.deployments[i])
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DeployedAt.After(out[j].DeployedAt) })
	return out, nil
}
