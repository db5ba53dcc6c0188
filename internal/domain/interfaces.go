package domain

import (
	"context"
	"time"
)

// PriceSource supplies market data. Implementations may be slow or fail;
// callers go through FetchCurrentPrice / FetchCandles which bound every call.
type PriceSource interface {
	// GetCurrentPrice returns the latest price, or nil if unavailable
	GetCurrentPrice(ctx context.Context, symbol string) (*float64, error)

	// GetHistoricalCandles returns at most count candles, oldest first, ending at
	// endDate (inclusive) or the latest available bar when endDate is nil
	GetHistoricalCandles(ctx context.Context, symbol, interval string, count int, endDate *time.Time) ([]Candle, error)
}
