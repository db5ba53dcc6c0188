package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrPriceUnavailable is returned when a price source has no data for a symbol
// or did not answer in time.
var ErrPriceUnavailable = errors.New("price unavailable")

type priceResult struct {
	price *float64
	err   error
}

type candleResult struct {
	candles []Candle
	err     error
}

// FetchCurrentPrice queries the source with a timeout. Any failure, a nil price
// or a non-positive price is reported as ErrPriceUnavailable.
func FetchCurrentPrice(ctx context.Context, src PriceSource, symbol string, timeout time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan priceResult, 1)
	go func() {
		p, err := src.GetCurrentPrice(ctx, symbol)
		ch <- priceResult{price: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, res.err)
		}
		if res.price == nil || *res.price <= 0 {
			return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
		}
		return *res.price, nil
	}
}

// FetchCandles queries the source with a timeout and normalises the result:
// sorted oldest first and trimmed to the newest count bars.
func FetchCandles(ctx context.Context, src PriceSource, symbol, interval string, count int, endDate *time.Time, timeout time.Duration) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan candleResult, 1)
	go func() {
		c, err := src.GetHistoricalCandles(ctx, symbol, interval, count, endDate)
		ch <- candleResult{candles: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s candles: %v", ErrPriceUnavailable, symbol, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s candles: %v", ErrPriceUnavailable, symbol, res.err)
		}
		return normaliseCandles(res.candles, count), nil
	}
}

func normaliseCandles(candles []Candle, count int) []Candle {
	if !sort.SliceIsSorted(candles, func(i, j int) bool { return candles[i].Date.Before(candles[j].Date) }) {
		sorted := make([]Candle, len(candles))
		copy(sorted, candles)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
		candles = sorted
	}
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles
}
