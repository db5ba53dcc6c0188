// Package deployment installs evolved genomes as the active strategy of
// virtual portfolios.
package deployment

import (
	"context"
	"time"
)

// Deployment maps a genome to the portfolio running it
type Deployment struct {
	GenomeID    string    `json:"genome_id"`
	Generation  int       `json:"generation"`
	PortfolioID string    `json:"portfolio_id"`
	Strategy    string    `json:"strategy"`
	Fitness     *float64  `json:"fitness,omitempty"`
	Auto        bool      `json:"auto"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// Store records deployments
type Store interface {
	Record(ctx context.Context, d Deployment) error
	// ByGenome returns a genome's deployments, newest first
	ByGenome(ctx context.Context, genomeID string) ([]Deployment, error)
	// LatestAuto returns the newest auto-deploy, nil when there is none
	LatestAuto(ctx context.Context) (*Deployment, error)
	List(ctx context.Context) ([]Deployment, error)
}
