package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/domain"
)

// MockPriceSource is an in-memory domain.PriceSource for tests
type MockPriceSource struct {
	mu      sync.RWMutex
	prices  map[string]float64
	candles map[string][]domain.Candle
	err     error
	delay   time.Duration
	calls   int
}

// NewMockPriceSource creates an empty mock price source
func NewMockPriceSource() *MockPriceSource {
	return &MockPriceSource{
		prices:  make(map[string]float64),
		candles: make(map[string][]domain.Candle),
	}
}

// SetPrice sets the current price for a symbol
func (m *MockPriceSource) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetCandles sets the history for a symbol
func (m *MockPriceSource) SetCandles(symbol string, candles []domain.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SetError makes every call fail with err
func (m *MockPriceSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call sleep before answering
func (m *MockPriceSource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the number of calls served
func (m *MockPriceSource) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockPriceSource) begin() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.delay, m.err
}

// GetCurrentPrice returns the configured price, nil when unset
func (m *MockPriceSource) GetCurrentPrice(ctx context.Context, symbol string) (*float64, error) {
	delay, err := m.begin()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetHistoricalCandles returns at most count of the newest configured candles
func (m *MockPriceSource) GetHistoricalCandles(ctx context.Context, symbol, interval string, count int, endDate *time.Time) ([]domain.Candle, error) {
	delay, err := m.begin()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Candle
	for _, c := range m.candles[symbol] {
		if endDate != nil && c.Date.After(*endDate) {
			break
		}
		out = append(out, c)
	}
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}
