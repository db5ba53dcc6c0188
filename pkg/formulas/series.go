package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// The *Series functions return an indicator aligned with the input: out[i]
// only depends on values[0..i], and positions inside the warm-up window are
// NaN so callers never mistake talib's zero padding for a real reading.

// SMASeries calculates the simple moving average for every bar.
func SMASeries(values []float64, period int) []float64 {
	if !enoughData(values, period, period-1) {
		return nanSeries(len(values))
	}
	return maskWarmup(talib.Sma(values, period), period-1)
}

// EMASeries calculates the exponential moving average for every bar.
func EMASeries(values []float64, period int) []float64 {
	if !enoughData(values, period, period-1) {
		return nanSeries(len(values))
	}
	return maskWarmup(talib.Ema(values, period), period-1)
}

// RSISeries calculates the Relative Strength Index for every bar.
func RSISeries(values []float64, period int) []float64 {
	if !enoughData(values, period, period) {
		return nanSeries(len(values))
	}
	return maskWarmup(talib.Rsi(values, period), period)
}

// ROCSeries calculates the rate of change (in percent) for every bar.
func ROCSeries(values []float64, period int) []float64 {
	if !enoughData(values, period, period) {
		return nanSeries(len(values))
	}
	return maskWarmup(talib.Roc(values, period), period)
}

// MACDSeries calculates the MACD line, signal line and histogram.
func MACDSeries(values []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	if fast < 2 || slow <= fast || signal < 1 {
		n := len(values)
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	lookback := (slow - 1) + (signal - 1)
	if len(values) <= lookback {
		n := len(values)
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	macd, sig, hist = talib.Macd(values, fast, slow, signal)
	return maskWarmup(macd, lookback), maskWarmup(sig, lookback), maskWarmup(hist, lookback)
}

// BollingerSeries calculates upper, middle and lower Bollinger bands (SMA based).
func BollingerSeries(values []float64, period int, stdDevMultiplier float64) (upper, middle, lower []float64) {
	if !enoughData(values, period, period-1) {
		n := len(values)
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	upper, middle, lower = talib.BBands(values, period, stdDevMultiplier, stdDevMultiplier, 0)
	return maskWarmup(upper, period-1), maskWarmup(middle, period-1), maskWarmup(lower, period-1)
}

func enoughData(values []float64, period, lookback int) bool {
	return period >= 2 && len(values) > lookback
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func maskWarmup(series []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}
