package evolution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// State is the engine's position in the generation cycle
type State string

const (
	StateIdle       State = "idle"
	StateSeeding    State = "seeding"
	StateEvaluating State = "evaluating"
	StatePersisting State = "persisting"
	StateBreeding   State = "breeding"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Config holds the engine knobs
type Config struct {
	Strategy          string
	PopulationSize    int
	MutationRate      float64
	CrossoverRate     float64
	EliteRatio        float64
	TournamentSize    int
	Interval          time.Duration
	MaxGenerations    int // 0 runs until stopped
	Workers           int
	EvaluationTimeout time.Duration
	AutoDeploy        bool
	Symbols           []string
	CandleInterval    string
	CandleCount       int
	PriceTimeout      time.Duration
	PersistAttempts   int
	Seed              int64 // 0 seeds from the clock
}

// Deployer turns a winning genome into a live virtual portfolio strategy
type Deployer interface {
	Redeploy(ctx context.Context, genome *Genome) (*portfolio.VirtualPortfolio, error)
}

// Status is a point-in-time view of the engine
type Status struct {
	State        State     `json:"state"`
	Running      bool      `json:"running"`
	Strategy     string    `json:"strategy"`
	Generation   int       `json:"generation"`
	BestFitness  *float64  `json:"best_fitness,omitempty"`
	BestGenomeID string    `json:"best_genome_id,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Option configures an Engine
type Option func(*Engine)

// WithBackOff replaces the persistence retry policy
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBackOff = newBackOff }
}

// WithDeployer enables auto-deploy targets
func WithDeployer(d Deployer) Option {
	return func(e *Engine) { e.deployer = d }
}

// Engine runs the generation cycle: seed or resume, evaluate, persist,
// breed, wait. Stop requests are honoured between steps; evaluations that
// already started are allowed to finish.
type Engine struct {
	cfg          Config
	breeder      *Breeder
	evaluator    Evaluator
	store        Store
	prices       domain.PriceSource
	deployer     Deployer
	eventManager *events.Manager
	newBackOff   func() backoff.BackOff
	log          zerolog.Logger

	// slots bounds running evaluations, including timed-out ones that
	// have not returned yet
	slots *semaphore.Weighted

	mu           sync.RWMutex
	state        State
	generation   int
	bestFitness  *float64
	bestGenomeID string
	lastErr      error
	updatedAt    time.Time
	running      bool
	stopCh       chan struct{}
	stopping     bool
}

// NewEngine creates an engine searching cfg.Strategy's parameter schema
func NewEngine(
	cfg Config,
	catalog *strategies.Catalog,
	evaluator Evaluator,
	store Store,
	prices domain.PriceSource,
	eventManager *events.Manager,
	log zerolog.Logger,
	opts ...Option,
) (*Engine, error) {
	strategy, err := catalog.Get(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.Strategy)
	}
	if cfg.PopulationSize < 1 {
		return nil, fmt.Errorf("population size must be positive, got %d", cfg.PopulationSize)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = 30 * time.Second
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 5 * time.Second
	}
	if cfg.PersistAttempts < 1 {
		cfg.PersistAttempts = 5
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		cfg: cfg,
		breeder: NewBreeder(cfg.Strategy, strategy.Schema(), BreederConfig{
			MutationRate:   cfg.MutationRate,
			CrossoverRate:  cfg.CrossoverRate,
			EliteRatio:     cfg.EliteRatio,
			TournamentSize: cfg.TournamentSize,
		}, rand.New(rand.NewSource(seed))),
		evaluator:    evaluator,
		store:        store,
		prices:       prices,
		eventManager: eventManager,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		log:       log.With().Str("service", "evolution").Logger(),
		slots:     semaphore.NewWeighted(int64(cfg.Workers)),
		state:     StateIdle,
		updatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Status returns the current engine status
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		State:        e.state,
		Running:      e.running,
		Strategy:     e.cfg.Strategy,
		Generation:   e.generation,
		BestGenomeID: e.bestGenomeID,
		UpdatedAt:    e.updatedAt,
	}
	if e.bestFitness != nil {
		f := *e.bestFitness
		s.BestFitness = &f
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// Stop asks a running engine to finish at the next step boundary
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running && !e.stopping {
		e.stopping = true
		close(e.stopCh)
	}
}

// Run blocks until max generations are reached, Stop is called, ctx is
// cancelled, or a generation cannot be persisted (ErrPersistence).
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	e.running = true
	e.stopping = false
	e.stopCh = make(chan struct{})
	e.lastErr = nil
	stopCh := e.stopCh
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	pop, generation, done, err := e.start(ctx)
	if err != nil {
		e.setFailed(err)
		return err
	}

	for !done {
		if e.stopRequested(ctx, stopCh) {
			break
		}

		e.setState(StateEvaluating, generation)
		started := time.Now()
		pop = e.evaluate(ctx, stopCh, pop, e.loadCandles(ctx))
		if !pop.AllScored() {
			e.log.Info().Int("generation", generation).Msg("Stopped during evaluation, generation discarded")
			break
		}

		e.setState(StatePersisting, generation)
		stats := pop.Stats(generation)
		if err := e.persist(ctx, stats, pop); err != nil {
			return err
		}

		e.log.Info().
			Int("generation", generation).
			Float64("best_fitness", stats.BestFitness).
			Float64("average_fitness", stats.AverageFitness).
			Float64("worst_fitness", stats.WorstFitness).
			Dur("duration", time.Since(started)).
			Msg("Generation completed")

		e.emit(&events.GenerationCompletedData{
			Generation:     stats.Generation,
			BestFitness:    stats.BestFitness,
			AverageFitness: stats.AverageFitness,
			WorstFitness:   stats.WorstFitness,
			PopulationSize: stats.PopulationSize,
			BestGenomeID:   stats.BestGenomeID,
			DurationMs:     time.Since(started).Milliseconds(),
		})

		if e.cfg.MaxGenerations > 0 && generation+1 >= e.cfg.MaxGenerations {
			break
		}

		e.setState(StateBreeding, generation)
		pop = e.breeder.NextGeneration(pop, e.cfg.PopulationSize, generation+1)
		generation++

		if !e.wait(ctx, stopCh) {
			break
		}
	}

	e.setState(StateStopped, generation)
	e.emit(&events.EvolutionStatusData{Generation: generation, Strategy: e.cfg.Strategy, Stopped: true})
	e.log.Info().Int("generation", generation).Msg("Evolution stopped")
	return nil
}

// start seeds generation 0 or resumes after the latest stored generation.
// done is set when the stored history already reached MaxGenerations.
func (e *Engine) start(ctx context.Context) (pop Population, generation int, done bool, err error) {
	latest, err := e.store.LatestStats(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read evolution history: %w", err)
	}

	if latest == nil {
		e.setState(StateSeeding, 0)
		pop = e.breeder.SeedPopulation(e.cfg.PopulationSize, 0)
		e.log.Info().Int("population", len(pop)).Str("strategy", e.cfg.Strategy).Msg("Seeded initial population")
		e.emit(&events.EvolutionStatusData{Generation: 0, Strategy: e.cfg.Strategy})
		return pop, 0, false, nil
	}

	best, err := e.store.BestGenome(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read best genome: %w", err)
	}
	e.mu.Lock()
	if best != nil {
		e.bestFitness = best.Fitness
		e.bestGenomeID = best.ID
	}
	e.generation = latest.Generation
	e.mu.Unlock()

	if e.cfg.MaxGenerations > 0 && latest.Generation+1 >= e.cfg.MaxGenerations {
		e.log.Info().Int("generation", latest.Generation).Msg("Stored history already reached max generations")
		return nil, latest.Generation, true, nil
	}

	previous, err := e.store.GenomesByGeneration(ctx, latest.Generation)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to load generation %d: %w", latest.Generation, err)
	}

	generation = latest.Generation + 1
	if len(previous) == 0 || previous[0].Strategy != e.cfg.Strategy {
		// Nothing to breed from for this strategy
		e.setState(StateSeeding, generation)
		pop = e.breeder.SeedPopulation(e.cfg.PopulationSize, generation)
	} else {
		e.setState(StateBreeding, generation)
		pop = e.breeder.NextGeneration(Population(previous), e.cfg.PopulationSize, generation)
	}

	e.log.Info().
		Int("resumed_from", latest.Generation).
		Int("generation", generation).
		Msg("Resuming evolution")
	e.emit(&events.EvolutionStatusData{Generation: generation, Strategy: e.cfg.Strategy, Resumed: true})
	return pop, generation, false, nil
}

// loadCandles fetches history once per generation; failing symbols are left out
func (e *Engine) loadCandles(ctx context.Context) map[string][]domain.Candle {
	out := make(map[string][]domain.Candle, len(e.cfg.Symbols))
	if e.prices == nil {
		return out
	}

	for _, symbol := range e.cfg.Symbols {
		candles, err := domain.FetchCandles(ctx, e.prices, symbol, e.cfg.CandleInterval, e.cfg.CandleCount, nil, e.cfg.PriceTimeout)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Candles unavailable, symbol skipped this generation")
			continue
		}
		out[symbol] = candles
	}
	return out
}

// evaluate scores every unscored genome on a bounded pool of workers
func (e *Engine) evaluate(ctx context.Context, stopCh <-chan struct{}, pop Population, candles map[string][]domain.Candle) Population {
	out := make(Population, len(pop))
	copy(out, pop)

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	for i, genome := range out {
		if genome.IsScored() {
			continue
		}
		if e.stopRequested(ctx, stopCh) {
			break
		}
		i, genome := i, genome
		g.Go(func() error {
			out[i] = e.evaluateOne(ctx, genome, candles)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// evaluateOne runs a single backtest under the evaluation timeout. A timeout
// or panic scores the genome with a degraded evaluation. The worker slot is
// held until Evaluate returns, so an evaluator that ignores its context
// keeps occupying it after the genome has been scored as timed out.
func (e *Engine) evaluateOne(ctx context.Context, genome *Genome, candles map[string][]domain.Candle) *Genome {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.EvaluationTimeout)
	defer cancel()

	if err := e.slots.Acquire(evalCtx, 1); err != nil {
		e.log.Warn().
			Str("genome_id", genome.ID).
			Dur("timeout", e.cfg.EvaluationTimeout).
			Msg("No evaluation slot freed before timeout")
		return genome.Scored(DegradedEvaluation(ErrEvaluationTimeout.Error()))
	}

	result := make(chan Evaluation, 1)
	go func() {
		defer e.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Interface("panic", r).Str("genome_id", genome.ID).Msg("Evaluation panicked")
				result <- DegradedEvaluation(fmt.Sprintf("evaluation panicked: %v", r))
			}
		}()
		result <- e.evaluator.Evaluate(evalCtx, genome, candles)
	}()

	select {
	case ev := <-result:
		return genome.Scored(ev)
	case <-evalCtx.Done():
		e.log.Warn().
			Str("genome_id", genome.ID).
			Dur("timeout", e.cfg.EvaluationTimeout).
			Msg("Genome evaluation timed out")
		return genome.Scored(DegradedEvaluation(ErrEvaluationTimeout.Error()))
	}
}

// persist stores the generation with retries, then auto-deploys a new record
func (e *Engine) persist(ctx context.Context, stats GenerationStats, pop Population) error {
	// Shutdown must not lose an evaluated generation
	storeCtx := context.WithoutCancel(ctx)

	prevBest, err := e.store.BestFitnessEver(storeCtx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read best fitness, using in-memory value")
		prevBest = e.Status().BestFitness
	}

	attempts := 0
	err = backoff.RetryNotify(
		func() error {
			attempts++
			return e.store.SaveGeneration(storeCtx, stats, pop)
		},
		backoff.WithMaxRetries(e.newBackOff(), uint64(e.cfg.PersistAttempts-1)),
		func(err error, next time.Duration) {
			e.log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("Failed to persist generation, retrying")
		},
	)
	if err != nil {
		wrapped := fmt.Errorf("%w: generation %d after %d attempts: %v", ErrPersistence, stats.Generation, attempts, err)
		e.setFailed(wrapped)
		e.emit(&events.EvolutionFailedData{Generation: stats.Generation, Error: err.Error(), Attempts: attempts})
		return wrapped
	}

	best := pop.Best()
	isRecord := prevBest == nil || stats.BestFitness > *prevBest

	e.mu.Lock()
	if e.bestFitness == nil || stats.BestFitness > *e.bestFitness {
		f := stats.BestFitness
		e.bestFitness = &f
		e.bestGenomeID = best.ID
	}
	e.mu.Unlock()

	if e.cfg.AutoDeploy && isRecord && e.deployer != nil {
		e.deploy(storeCtx, best)
	}
	return nil
}

func (e *Engine) deploy(ctx context.Context, genome *Genome) {
	p, err := e.deployer.Redeploy(ctx, genome)
	if err != nil {
		e.log.Error().Err(err).Str("genome_id", genome.ID).Msg("Auto-deploy failed")
		if e.eventManager != nil {
			e.eventManager.EmitError("evolution", err, map[string]interface{}{
				"genome_id":  genome.ID,
				"generation": genome.Generation,
			})
		}
		return
	}
	e.log.Info().
		Str("genome_id", genome.ID).
		Str("portfolio_id", p.ID()).
		Float64("fitness", genome.FitnessValue()).
		Msg("New best genome deployed")
}

// wait sleeps for the configured interval; false means stop
func (e *Engine) wait(ctx context.Context, stopCh <-chan struct{}) bool {
	if e.cfg.Interval <= 0 {
		return !e.stopRequested(ctx, stopCh)
	}

	timer := time.NewTimer(e.cfg.Interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}

func (e *Engine) stopRequested(ctx context.Context, stopCh <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (e *Engine) setState(s State, generation int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.generation = generation
	e.updatedAt = time.Now()
}

func (e *Engine) setFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateFailed
	e.lastErr = err
	e.updatedAt = time.Now()

	if errors.Is(err, ErrPersistence) {
		e.log.Error().Err(err).Msg("Evolution halted: generation could not be persisted")
	} else {
		e.log.Error().Err(err).Msg("Evolution failed to start")
	}
}

func (e *Engine) emit(data events.EventData) {
	if e.eventManager != nil {
		e.eventManager.EmitTyped("evolution", data)
	}
}
