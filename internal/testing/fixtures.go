package testing

import (
	"math"
	"time"

	"github.com/aristath/evotrader/internal/domain"
)

// FixtureStart is the date of the first candle produced by the fixtures
var FixtureStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// CandlesFromCloses builds daily candles around the given closes
func CandlesFromCloses(closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = domain.Candle{
			Date:   FixtureStart.AddDate(0, 0, i),
			Open:   open,
			High:   math.Max(open, c) * 1.005,
			Low:    math.Min(open, c) * 0.995,
			Close:  c,
			Volume: 100_000,
		}
	}
	return out
}

// SineCandles oscillates around base with the given amplitude (fraction) and period in bars
func SineCandles(n int, base, amplitude float64, period int) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base * (1 + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period)))
	}
	return CandlesFromCloses(closes)
}

// TrendCandles grows (or shrinks) geometrically by rate per bar
func TrendCandles(n int, base, rate float64) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = base * math.Pow(1+rate, float64(i))
	}
	return CandlesFromCloses(closes)
}
