package evolution

import (
	"context"
	"math"

	"github.com/aristath/evotrader/internal/domain"
)

// MinFitness is the lowest score any genome can receive. Degraded and timed
// out evaluations get exactly this value.
const MinFitness = -100.0

// Fitness weights
const (
	weightReturn   = 0.5
	weightWinRate  = 0.3
	weightDrawdown = 0.2
)

// Evaluation is the outcome of backtesting one genome
type Evaluation struct {
	Fitness float64
	Metrics Metrics
}

// Evaluator scores a genome against historical candles keyed by symbol
type Evaluator interface {
	Evaluate(ctx context.Context, genome *Genome, candles map[string][]domain.Candle) Evaluation
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx context.Context, genome *Genome, candles map[string][]domain.Candle) Evaluation

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(ctx context.Context, genome *Genome, candles map[string][]domain.Candle) Evaluation {
	return f(ctx, genome, candles)
}

// Fitness is 100 × (0.5·return + 0.3·win_rate − 0.2·max_drawdown), floored
// at MinFitness. Increasing in return and win rate, decreasing in drawdown.
func Fitness(m Metrics) float64 {
	f := 100 * (weightReturn*m.ReturnRate + weightWinRate*m.WinRate - weightDrawdown*m.MaxDrawdown)
	if math.IsNaN(f) || f < MinFitness {
		return MinFitness
	}
	return f
}

// DegradedEvaluation is the result for a genome without any usable data
func DegradedEvaluation(reason string) Evaluation {
	return Evaluation{
		Fitness: MinFitness,
		Metrics: Metrics{Degraded: true, Error: reason},
	}
}
