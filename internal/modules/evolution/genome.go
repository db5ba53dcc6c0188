// Package evolution implements the genetic search over strategy parameters:
// genomes, populations, backtest-based fitness, the generation state machine
// and its persistence.
package evolution

import (
	"time"

	"github.com/aristath/evotrader/internal/modules/strategies"
)

// Metrics are the backtest statistics behind a fitness value
type Metrics struct {
	ReturnRate       float64 `json:"return_rate"`
	WinRate          float64 `json:"win_rate"`
	TradeCount       int     `json:"trade_count"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SymbolsEvaluated int     `json:"symbols_evaluated"`
	Degraded         bool    `json:"degraded,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Genome is one candidate parameter set. Fitness and Metrics are either both
// nil or both set; a scored genome is never modified.
type Genome struct {
	ID         string            `json:"id"`
	Generation int               `json:"generation"`
	Strategy   string            `json:"strategy"`
	Parameters strategies.Params `json:"parameters"`
	Fitness    *float64          `json:"fitness,omitempty"`
	Metrics    *Metrics          `json:"metrics,omitempty"`
	ParentIDs  []string          `json:"parent_ids,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewGenome builds an unscored genome. Parameters are clamped into the
// schema, so out-of-range input never produces an invalid genome.
func NewGenome(id string, generation int, strategy string, schema strategies.Schema, params strategies.Params) *Genome {
	return &Genome{
		ID:         id,
		Generation: generation,
		Strategy:   strategy,
		Parameters: schema.Clamp(params),
		CreatedAt:  time.Now(),
	}
}

// IsScored reports whether fitness has been assigned
func (g *Genome) IsScored() bool {
	return g.Fitness != nil
}

// FitnessValue returns the fitness, MinFitness when unscored
func (g *Genome) FitnessValue() float64 {
	if g.Fitness == nil {
		return MinFitness
	}
	return *g.Fitness
}

// Scored returns a copy carrying the evaluation result
func (g *Genome) Scored(e Evaluation) *Genome {
	c := g.clone()
	f := e.Fitness
	m := e.Metrics
	c.Fitness = &f
	c.Metrics = &m
	return c
}

// Advance returns a copy of g in the given generation, keeping id and score.
// Elites move between generations this way.
func (g *Genome) Advance(generation int) *Genome {
	c := g.clone()
	c.Generation = generation
	c.CreatedAt = time.Now()
	return c
}

func (g *Genome) clone() *Genome {
	c := *g
	c.Parameters = g.Parameters.Clone()
	c.ParentIDs = append([]string(nil), g.ParentIDs...)
	if g.Fitness != nil {
		f := *g.Fitness
		c.Fitness = &f
	}
	if g.Metrics != nil {
		m := *g.Metrics
		c.Metrics = &m
	}
	return &c
}
