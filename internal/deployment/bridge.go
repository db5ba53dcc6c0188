package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/evolution"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/rs/zerolog"
)

// Config holds deployment defaults
type Config struct {
	InitialCapital float64
	// Symbols traded by deployed strategies
	Symbols []string
}

// Bridge turns genomes into portfolio strategy configurations
type Bridge struct {
	portfolios   *portfolio.Service
	catalog      *strategies.Catalog
	store        Store
	cfg          Config
	eventManager *events.Manager
	log          zerolog.Logger
	now          func() time.Time

	// Serialises deployments so concurrent redeploys never create duplicates
	mu sync.Mutex
}

var _ evolution.Deployer = (*Bridge)(nil)

// NewBridge creates a deployment bridge. A nil store keeps deployments in memory.
func NewBridge(
	portfolios *portfolio.Service,
	catalog *strategies.Catalog,
	store Store,
	cfg Config,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Bridge {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Bridge{
		portfolios:   portfolios,
		catalog:      catalog,
		store:        store,
		cfg:          cfg,
		eventManager: eventManager,
		log:          log.With().Str("service", "deployment").Logger(),
		now:          time.Now,
	}
}

// Deploy installs genome on portfolioID, or on a new portfolio when
// portfolioID is empty. Deploying the same genome to the same portfolio
// again only refreshes its configuration.
func (b *Bridge) Deploy(ctx context.Context, genome *evolution.Genome, portfolioID string) (*portfolio.VirtualPortfolio, error) {
	if err := b.validate(genome); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if portfolioID == "" {
		return b.create(ctx, genome, false)
	}
	p, err := b.portfolios.Get(portfolioID)
	if err != nil {
		return nil, err
	}
	return b.update(ctx, p, genome, false)
}

// Redeploy installs genome where it already runs; otherwise it replaces the
// strategy of the latest auto-deployed portfolio, creating one when none
// exists.
func (b *Bridge) Redeploy(ctx context.Context, genome *evolution.Genome) (*portfolio.VirtualPortfolio, error) {
	if err := b.validate(genome); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := b.store.ByGenome(ctx, genome.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range existing {
		if p, ok := b.lookup(d.PortfolioID); ok {
			return b.update(ctx, p, genome, d.Auto)
		}
	}

	champion, err := b.store.LatestAuto(ctx)
	if err != nil {
		return nil, err
	}
	if champion != nil {
		if p, ok := b.lookup(champion.PortfolioID); ok {
			return b.update(ctx, p, genome, true)
		}
	}
	return b.create(ctx, genome, true)
}

// Deployments lists every recorded deployment, newest first
func (b *Bridge) Deployments(ctx context.Context) ([]Deployment, error) {
	return b.store.List(ctx)
}

func (b *Bridge) validate(genome *evolution.Genome) error {
	if genome == nil {
		return fmt.Errorf("%w: nil genome", evolution.ErrGenomeNotFound)
	}
	if _, err := b.catalog.Get(genome.Strategy); err != nil {
		return fmt.Errorf("%w: %s", evolution.ErrUnknownStrategy, genome.Strategy)
	}
	return nil
}

func (b *Bridge) lookup(id string) (*portfolio.VirtualPortfolio, bool) {
	p, err := b.portfolios.Get(id)
	if err != nil {
		if !errors.Is(err, portfolio.ErrPortfolioNotFound) {
			b.log.Warn().Err(err).Str("portfolio_id", id).Msg("Failed to look up deployed portfolio")
		}
		return nil, false
	}
	return p, true
}

func (b *Bridge) create(ctx context.Context, genome *evolution.Genome, auto bool) (*portfolio.VirtualPortfolio, error) {
	p, err := b.portfolios.Create(portfolioName(genome), b.cfg.InitialCapital, b.strategyConfig(genome))
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio for genome %s: %w", genome.ID, err)
	}
	if err := b.record(ctx, p, genome, auto, true); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bridge) update(ctx context.Context, p *portfolio.VirtualPortfolio, genome *evolution.Genome, auto bool) (*portfolio.VirtualPortfolio, error) {
	if err := b.portfolios.SetStrategy(p.ID(), b.strategyConfig(genome)); err != nil {
		return nil, fmt.Errorf("failed to update strategy of %s: %w", p.ID(), err)
	}
	if err := b.record(ctx, p, genome, auto, false); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bridge) record(ctx context.Context, p *portfolio.VirtualPortfolio, genome *evolution.Genome, auto, created bool) error {
	d := Deployment{
		GenomeID:    genome.ID,
		Generation:  genome.Generation,
		PortfolioID: p.ID(),
		Strategy:    genome.Strategy,
		Fitness:     copyFitness(genome),
		Auto:        auto,
		DeployedAt:  b.now(),
	}
	if err := b.store.Record(ctx, d); err != nil {
		return err
	}

	b.log.Info().
		Str("genome_id", genome.ID).
		Int("generation", genome.Generation).
		Str("portfolio_id", p.ID()).
		Str("strategy", genome.Strategy).
		Bool("created", created).
		Msg("Strategy deployed")

	if b.eventManager != nil {
		b.eventManager.EmitTyped("deployment", &events.StrategyDeployedData{
			PortfolioID: p.ID(),
			GenomeID:    genome.ID,
			Generation:  genome.Generation,
			Strategy:    genome.Strategy,
			Fitness:     d.Fitness,
			Parameters:  genome.Parameters.Clone(),
			Created:     created,
		})
	}
	return nil
}

func (b *Bridge) strategyConfig(genome *evolution.Genome) *portfolio.StrategyConfig {
	return &portfolio.StrategyConfig{
		Strategy:   genome.Strategy,
		Parameters: genome.Parameters.Clone(),
		Symbols:    append([]string(nil), b.cfg.Symbols...),
		GenomeID:   genome.ID,
		Generation: genome.Generation,
		Fitness:    copyFitness(genome),
		UpdatedAt:  b.now(),
	}
}

func portfolioName(genome *evolution.Genome) string {
	id := genome.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("evolved-g%d-%s", genome.Generation, id)
}

func copyFitness(genome *evolution.Genome) *float64 {
	if genome.Fitness == nil {
		return nil
	}
	f := *genome.Fitness
	return &f
}
