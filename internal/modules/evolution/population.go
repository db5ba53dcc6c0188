package evolution

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// Population is one generation's genomes
type Population []*Genome

// Sorted returns a copy ordered by fitness descending, ties by lower id.
// Unscored genomes sort last.
func (p Population) Sorted() Population {
	out := make(Population, len(p))
	copy(out, p)
	sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// Best returns the fittest genome, nil for an empty population
func (p Population) Best() *Genome {
	var best *Genome
	for _, g := range p {
		if best == nil || better(g, best) {
			best = g
		}
	}
	return best
}

// AllScored reports whether every genome has a fitness
func (p Population) AllScored() bool {
	for _, g := range p {
		if !g.IsScored() {
			return false
		}
	}
	return true
}

// Stats summarises a fully scored population
func (p Population) Stats(generation int) GenerationStats {
	s := GenerationStats{
		Generation:     generation,
		PopulationSize: len(p),
		CreatedAt:      time.Now(),
	}
	if len(p) == 0 {
		return s
	}

	fitness := make([]float64, len(p))
	for i, g := range p {
		fitness[i] = g.FitnessValue()
	}
	s.BestFitness = floats(fitness).max()
	s.WorstFitness = floats(fitness).min()
	// Float summation can drift outside [worst, best] by an ulp
	s.AverageFitness = math.Max(s.WorstFitness, math.Min(s.BestFitness, stat.Mean(fitness, nil)))
	s.BestGenomeID = p.Best().ID
	return s
}

// GenerationStats is the append-only summary of one generation
type GenerationStats struct {
	Generation     int       `json:"generation"`
	BestFitness    float64   `json:"best_fitness"`
	AverageFitness float64   `json:"average_fitness"`
	WorstFitness   float64   `json:"worst_fitness"`
	BestGenomeID   string    `json:"best_genome_id"`
	PopulationSize int       `json:"population_size"`
	CreatedAt      time.Time `json:"timestamp"`
}

type floats []float64

func (f floats) max() float64 {
	m := math.Inf(-1)
	for _, v := range f {
		m = math.Max(m, v)
	}
	return m
}

func (f floats) min() float64 {
	m := math.Inf(1)
	for _, v := range f {
		m = math.Min(m, v)
	}
	return m
}

func better(a, b *Genome) bool {
	if a.IsScored() != b.IsScored() {
		return a.IsScored()
	}
	fa, fb := a.FitnessValue(), b.FitnessValue()
	if fa != fb {
		return fa > fb
	}
	return a.ID < b.ID
}

// BreederConfig holds the genetic operator rates
type BreederConfig struct {
	MutationRate   float64
	CrossoverRate  float64
	EliteRatio     float64
	TournamentSize int
}

// Breeder applies seeding, selection, crossover and mutation for one
// strategy schema. The random source is shared and guarded so a fixed seed
// reproduces the same sequence of populations.
type Breeder struct {
	strategy string
	schema   strategies.Schema
	cfg      BreederConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBreeder creates a breeder. A nil rng is seeded from the clock.
func NewBreeder(strategy string, schema strategies.Schema, cfg BreederConfig, rng *rand.Rand) *Breeder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.TournamentSize < 1 {
		cfg.TournamentSize = 3
	}
	return &Breeder{strategy: strategy, schema: schema, cfg: cfg, rng: rng}
}

// Schema returns the parameter schema being searched
func (b *Breeder) Schema() strategies.Schema { return b.schema }

// Strategy returns the strategy name genomes are bound to
func (b *Breeder) Strategy() string { return b.strategy }

// SeedPopulation samples size genomes uniformly within the schema
func (b *Breeder) SeedPopulation(size, generation int) Population {
	b.mu.Lock()
	defer b.mu.Unlock()

	pop := make(Population, size)
	for i := range pop {
		pop[i] = NewGenome(b.newID(), generation, b.strategy, b.schema, b.schema.Sample(b.rng))
	}
	return pop
}

// SelectParents picks two parents by tournament selection
func (b *Breeder) SelectParents(pop Population) (*Genome, *Genome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tournament(pop), b.tournament(pop)
}

func (b *Breeder) tournament(pop Population) *Genome {
	var winner *Genome
	for i := 0; i < b.cfg.TournamentSize; i++ {
		candidate := pop[b.rng.Intn(len(pop))]
		if winner == nil || better(candidate, winner) {
			winner = candidate
		}
	}
	return winner
}

// Crossover mixes two parents' parameters. With probability
// 1 - CrossoverRate the child copies one parent verbatim; otherwise each
// parameter comes from either parent with equal probability.
func (b *Breeder) Crossover(a, c *Genome) strategies.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crossover(a, c)
}

func (b *Breeder) crossover(a, c *Genome) strategies.Params {
	if b.rng.Float64() >= b.cfg.CrossoverRate {
		if b.rng.Intn(2) == 0 {
			return a.Parameters.Clone()
		}
		return c.Parameters.Clone()
	}

	child := make(strategies.Params, len(b.schema))
	for _, r := range b.schema {
		if b.rng.Intn(2) == 0 {
			child[r.Name] = a.Parameters.Get(r.Name, r.Midpoint())
		} else {
			child[r.Name] = c.Parameters.Get(r.Name, r.Midpoint())
		}
	}
	return child
}

// Mutate resamples each parameter uniformly with probability MutationRate
func (b *Breeder) Mutate(params strategies.Params) strategies.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutate(params)
}

func (b *Breeder) mutate(params strategies.Params) strategies.Params {
	out := params.Clone()
	for _, r := range b.schema {
		if b.rng.Float64() < b.cfg.MutationRate {
			out[r.Name] = r.Sample(b.rng)
		}
	}
	return out
}

// EliteCount is the number of genomes carried over unchanged: ratio of the
// population rounded down, at least one, never the whole population.
func EliteCount(size int, ratio float64) int {
	if size <= 1 {
		return size
	}
	n := int(math.Floor(float64(size) * ratio))
	if n < 1 {
		n = 1
	}
	if n >= size {
		n = size - 1
	}
	return n
}

// NextGeneration keeps the elites (fitness intact, generation advanced) and
// fills the rest of size with mutated crossover children.
func (b *Breeder) NextGeneration(pop Population, size, generation int) Population {
	if len(pop) == 0 {
		return b.SeedPopulation(size, generation)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(Population, 0, size)
	for _, g := range pop.Sorted()[:minInt(EliteCount(size, b.cfg.EliteRatio), len(pop))] {
		next = append(next, g.Advance(generation))
	}

	for len(next) < size {
		a, c := b.tournament(pop), b.tournament(pop)
		params := b.mutate(b.crossover(a, c))
		child := NewGenome(b.newID(), generation, b.strategy, b.schema, params)
		child.ParentIDs = []string{a.ID, c.ID}
		next = append(next, child)
	}
	return next
}

// newID draws a UUID from the breeder's rng; caller holds mu
func (b *Breeder) newID() string {
	id, err := uuid.NewRandomFromReader(b.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
