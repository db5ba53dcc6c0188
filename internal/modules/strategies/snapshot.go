package strategies

import (
	"fmt"
	"math"
	"sync"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/pkg/formulas"
)

// Fundamentals are optional valuation inputs
type Fundamentals struct {
	PER float64 `json:"per"`
	PBR float64 `json:"pbr"`
}

// MarketSnapshot is a view of one symbol's history up to a current bar.
// Indicator series are computed once over the full candle array and shared
// between all views of it; every indicator used here is causal, so the value
// at bar i only depends on bars 0..i.
type MarketSnapshot struct {
	Symbol       string
	AIScore      *float64      // Optional external score in [-1, 1]
	Fundamentals *Fundamentals // Optional; strategies needing it hold when nil

	candles []domain.Candle
	index   int
	cache   *indicatorCache
}

type indicatorCache struct {
	mu      sync.Mutex
	closes  []float64
	volumes []float64
	series  map[string][]float64
}

// NewSnapshot builds a snapshot positioned at the last candle
func NewSnapshot(symbol string, candles []domain.Candle) *MarketSnapshot {
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	return &MarketSnapshot{
		Symbol:  symbol,
		candles: candles,
		index:   len(candles) - 1,
		cache: &indicatorCache{
			closes:  domain.Closes(candles),
			volumes: volumes,
			series:  make(map[string][]float64),
		},
	}
}

// At returns a view positioned at bar i sharing this snapshot's indicator cache
func (s *MarketSnapshot) At(i int) *MarketSnapshot {
	view := *s
	view.index = i
	return &view
}

// Index is the position of the current bar
func (s *MarketSnapshot) Index() int { return s.index }

// Len is the number of bars visible up to and including the current one
func (s *MarketSnapshot) Len() int { return s.index + 1 }

// Bar returns the current candle
func (s *MarketSnapshot) Bar() domain.Candle {
	if s.index < 0 {
		return domain.Candle{}
	}
	return s.candles[s.index]
}

// Close returns the current close
func (s *MarketSnapshot) Close() float64 { return s.Bar().Close }

// Candles returns the visible history
func (s *MarketSnapshot) Candles() []domain.Candle {
	return s.candles[:s.index+1]
}

func (c *indicatorCache) get(key string, compute func() []float64) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.series[key]; ok {
		return v
	}
	v := compute()
	c.series[key] = v
	return v
}

// valueAt reads series[index-offset]; false when out of range or still warming up
func (s *MarketSnapshot) valueAt(series []float64, offset int) (float64, bool) {
	i := s.index - offset
	if i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SMA returns the simple moving average at the current bar
func (s *MarketSnapshot) SMA(period int) (float64, bool) {
	series := s.cache.get(fmt.Sprintf("sma:%d", period), func() []float64 {
		return formulas.SMASeries(s.cache.closes, period)
	})
	return s.valueAt(series, 0)
}

// EMA returns the exponential moving average at the current bar
func (s *MarketSnapshot) EMA(period int) (float64, bool) {
	series := s.cache.get(fmt.Sprintf("ema:%d", period), func() []float64 {
		return formulas.EMASeries(s.cache.closes, period)
	})
	return s.valueAt(series, 0)
}

// RSI returns the relative strength index at the current bar
func (s *MarketSnapshot) RSI(period int) (float64, bool) {
	series := s.cache.get(fmt.Sprintf("rsi:%d", period), func() []float64 {
		return formulas.RSISeries(s.cache.closes, period)
	})
	return s.valueAt(series, 0)
}

// ROC returns the percentage rate of change over period bars
func (s *MarketSnapshot) ROC(period int) (float64, bool) {
	series := s.cache.get(fmt.Sprintf("roc:%d", period), func() []float64 {
		return formulas.ROCSeries(s.cache.closes, period)
	})
	return s.valueAt(series, 0)
}

// MACD returns the MACD and signal lines offset bars before the current one
func (s *MarketSnapshot) MACD(fast, slow, signal, offset int) (macd, sig float64, ok bool) {
	key := fmt.Sprintf("macd:%d:%d:%d", fast, slow, signal)
	macdSeries := s.cache.get(key, func() []float64 {
		m, sg, _ := formulas.MACDSeries(s.cache.closes, fast, slow, signal)
		s.cache.series[key+":signal"] = sg
		return m
	})
	sigSeries := s.cache.get(key+":signal", func() []float64 {
		_, sg, _ := formulas.MACDSeries(s.cache.closes, fast, slow, signal)
		return sg
	})
	m, ok1 := s.valueAt(macdSeries, offset)
	sg, ok2 := s.valueAt(sigSeries, offset)
	return m, sg, ok1 && ok2
}

// Bollinger returns the bands at the current bar
func (s *MarketSnapshot) Bollinger(period int, k float64) (upper, middle, lower float64, ok bool) {
	key := fmt.Sprintf("bb:%d:%.4f", period, k)
	upperSeries := s.cache.get(key+":upper", func() []float64 {
		u, m, l := formulas.BollingerSeries(s.cache.closes, period, k)
		s.cache.series[key+":middle"] = m
		s.cache.series[key+":lower"] = l
		return u
	})
	middleSeries := s.cache.get(key+":middle", func() []float64 {
		_, m, _ := formulas.BollingerSeries(s.cache.closes, period, k)
		return m
	})
	lowerSeries := s.cache.get(key+":lower", func() []float64 {
		_, _, l := formulas.BollingerSeries(s.cache.closes, period, k)
		return l
	})
	u, ok1 := s.valueAt(upperSeries, 0)
	m, ok2 := s.valueAt(middleSeries, 0)
	l, ok3 := s.valueAt(lowerSeries, 0)
	return u, m, l, ok1 && ok2 && ok3
}

// HighestHigh is the highest high of the lookback bars before the current one
func (s *MarketSnapshot) HighestHigh(lookback int) (float64, bool) {
	if lookback < 1 || s.index < lookback {
		return 0, false
	}
	hi := math.Inf(-1)
	for _, c := range s.candles[s.index-lookback : s.index] {
		hi = math.Max(hi, c.High)
	}
	return hi, true
}

// LowestLow is the lowest low of the lookback bars before the current one
func (s *MarketSnapshot) LowestLow(lookback int) (float64, bool) {
	if lookback < 1 || s.index < lookback {
		return 0, false
	}
	lo := math.Inf(1)
	for _, c := range s.candles[s.index-lookback : s.index] {
		lo = math.Min(lo, c.Low)
	}
	return lo, true
}

// AverageVolume is the mean volume of the lookback bars before the current one
func (s *MarketSnapshot) AverageVolume(lookback int) (float64, bool) {
	if lookback < 1 || s.index < lookback {
		return 0, false
	}
	return formulas.Mean(s.cache.volumes[s.index-lookback : s.index]), true
}
