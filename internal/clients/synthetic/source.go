// Package synthetic generates deterministic market data for simulation and
// offline runs.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/rs/zerolog"
)

// Config tunes the random walk
type Config struct {
	Seed       int64
	Bars       int       // History length per symbol and interval
	Drift      float64   // Mean log return per bar
	Volatility float64   // Standard deviation of log returns per bar
	End        time.Time // Date of the newest bar; defaults to today (UTC)
}

var intervalSteps = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Source is a domain.PriceSource backed by a seeded geometric random walk.
// The same seed and symbol always produce the same history.
type Source struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	history map[string][]domain.Candle
	live    map[string]*liveQuote
}

type liveQuote struct {
	price float64
	rng   *rand.Rand
}

// New creates a synthetic price source
func New(cfg Config, log zerolog.Logger) *Source {
	if cfg.Bars <= 0 {
		cfg.Bars = 500
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.02
	}
	if cfg.End.IsZero() {
		cfg.End = time.Now().UTC().Truncate(24 * time.Hour)
	}
	return &Source{
		cfg:     cfg,
		log:     log.With().Str("client", "synthetic").Logger(),
		history: make(map[string][]domain.Candle),
		live:    make(map[string]*liveQuote),
	}
}

var _ domain.PriceSource = (*Source)(nil)

// symbolSeed mixes the configured seed with the symbol so every symbol walks independently
func (s *Source) symbolSeed(symbol, interval string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(interval))
	return s.cfg.Seed ^ int64(h.Sum64())
}

// basePrice puts each symbol at its own price level between 1,000 and 100,000
func basePrice(seed int64) float64 {
	return 1000 + float64(uint64(seed)%99_000)
}

func (s *Source) series(symbol, interval string) ([]domain.Candle, error) {
	step, ok := intervalSteps[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	key := symbol + "|" + interval
	if candles, ok := s.history[key]; ok {
		return candles, nil
	}

	seed := s.symbolSeed(symbol, interval)
	rng := rand.New(rand.NewSource(seed))
	start := s.cfg.End.Add(-time.Duration(s.cfg.Bars-1) * step)

	candles := make([]domain.Candle, s.cfg.Bars)
	prev := basePrice(seed)
	for i := range candles {
		next := prev * math.Exp(s.cfg.Drift+s.cfg.Volatility*rng.NormFloat64())
		wick := s.cfg.Volatility * math.Abs(rng.NormFloat64()) / 2
		candles[i] = domain.Candle{
			Date:   start.Add(time.Duration(i) * step),
			Open:   prev,
			High:   math.Max(prev, next) * (1 + wick),
			Low:    math.Min(prev, next) * (1 - wick),
			Close:  next,
			Volume: math.Round(100_000 * (0.5 + rng.Float64())),
		}
		prev = next
	}

	s.history[key] = candles
	s.log.Debug().Str("symbol", symbol).Str("interval", interval).Int("bars", len(candles)).Msg("Generated history")
	return candles, nil
}

// GetHistoricalCandles returns at most count bars ending at endDate (inclusive)
func (s *Source) GetHistoricalCandles(ctx context.Context, symbol, interval string, count int, endDate *time.Time) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	candles, err := s.series(symbol, interval)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	end := len(candles)
	if endDate != nil {
		end = 0
		for end < len(candles) && !candles[end].Date.After(*endDate) {
			end++
		}
	}
	start := 0
	if count > 0 && end-count > 0 {
		start = end - count
	}

	out := make([]domain.Candle, end-start)
	copy(out, candles[start:end])
	return out, nil
}

// GetCurrentPrice continues the daily walk from the newest close in small
// steps, one per call.
func (s *Source) GetCurrentPrice(ctx context.Context, symbol string) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.live[symbol]
	if !ok {
		candles, err := s.series(symbol, "1d")
		if err != nil {
			return nil, err
		}
		q = &liveQuote{
			price: candles[len(candles)-1].Close,
			rng:   rand.New(rand.NewSource(s.symbolSeed(symbol, "live"))),
		}
		s.live[symbol] = q
	}

	q.price *= math.Exp(s.cfg.Volatility / 10 * q.rng.NormFloat64())
	price := q.price
	return &price, nil
}
