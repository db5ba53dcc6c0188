package evolution

import (
	"context"
	"math/rand"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/strategies"
)

// scriptedStrategy emits a fixed signal sequence keyed by bar index and
// otherwise holds
type scriptedStrategy struct {
	name    string
	schema  strategies.Schema
	signals map[int]domain.Signal
	always  domain.Signal
}

func (s *scriptedStrategy) Name() string              { return s.name }
func (s *scriptedStrategy) Description() string       { return "test strategy" }
func (s *scriptedStrategy) Schema() strategies.Schema { return s.schema }
func (s *scriptedStrategy) Decide(snap *strategies.MarketSnapshot, _ strategies.PositionState, _ strategies.Params) domain.Signal {
	if sig, ok := s.signals[snap.Index()]; ok {
		return sig
	}
	if s.always != "" {
		return s.always
	}
	return domain.SignalHold
}

var singleParamSchema = strategies.Schema{{Name: "x", Min: 0, Max: 100}}

func singleParamCatalog() *strategies.Catalog {
	c := strategies.NewCatalog()
	_ = c.Register(&scriptedStrategy{name: "single", schema: singleParamSchema})
	return c
}

// parameterFitness scores a genome by its "x" parameter
var parameterFitness = EvaluatorFunc(func(_ context.Context, g *Genome, _ map[string][]domain.Candle) Evaluation {
	x := g.Parameters["x"]
	return Evaluation{Fitness: x, Metrics: Metrics{ReturnRate: x / 100, SymbolsEvaluated: 1}}
})

func newTestBreeder(schema strategies.Schema, cfg BreederConfig, seed int64) *Breeder {
	return NewBreeder("single", schema, cfg, rand.New(rand.NewSource(seed)))
}

func scoredGenome(id string, generation int, fitness float64) *Genome {
	g := NewGenome(id, generation, "single", singleParamSchema, strategies.Params{"x": fitness})
	return g.Scored(Evaluation{Fitness: fitness})
}
