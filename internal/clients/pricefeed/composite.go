package pricefeed

import (
	"context"
	"time"

	"github.com/aristath/evotrader/internal/domain"
)

// Composite serves history from one source and current prices from another
type Composite struct {
	history domain.PriceSource
	current domain.PriceSource
}

// NewComposite combines a historical candle source with a live quote source
func NewComposite(history, current domain.PriceSource) *Composite {
	return &Composite{history: history, current: current}
}

var _ domain.PriceSource = (*Composite)(nil)

// GetCurrentPrice delegates to the quote source
func (c *Composite) GetCurrentPrice(ctx context.Context, symbol string) (*float64, error) {
	return c.current.GetCurrentPrice(ctx, symbol)
}

// GetHistoricalCandles delegates to the history source
func (c *Composite) GetHistoricalCandles(ctx context.Context, symbol, interval string, count int, endDate *time.Time) ([]domain.Candle, error) {
	return c.history.GetHistoricalCandles(ctx, symbol, interval, count, endDate)
}
