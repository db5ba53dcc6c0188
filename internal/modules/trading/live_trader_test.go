package trading

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedStrategy always returns the same signal
type fixedStrategy struct {
	name   string
	signal domain.Signal
}

func (s *fixedStrategy) Name() string        { return s.name }
func (s *fixedStrategy) Description() string { return "fixed signal" }
func (s *fixedStrategy) Schema() strategies.Schema {
	return strategies.Schema{{Name: strategies.ParamPositionSizeRatio, Min: 0.1, Max: 1}}
}
func (s *fixedStrategy) Decide(*strategies.MarketSnapshot, strategies.PositionState, strategies.Params) domain.Signal {
	return s.signal
}

func testCatalog() *strategies.Catalog {
	c := strategies.NewCatalog()
	_ = c.Register(&fixedStrategy{name: "always_buy", signal: domain.SignalBuy})
	_ = c.Register(&fixedStrategy{name: "always_sell", signal: domain.SignalSell})
	return c
}

func setupTrader(t *testing.T, cfg Config) (*LiveTrader, *portfolio.Service, *testingpkg.MockPriceSource) {
	t.Helper()
	log := zerolog.Nop()
	service := portfolio.NewService(nil, nil, 0, log)
	prices := testingpkg.NewMockPriceSource()
	for _, sym := range []string{"A", "B"} {
		prices.SetCandles(sym, testingpkg.TrendCandles(60, 100, 0.001))
		prices.SetPrice(sym, 100)
	}
	trader := NewLiveTrader(service, testCatalog(), prices, cfg, log)
	t.Cleanup(trader.Close)
	return trader, service, prices
}

func buyConfig(symbols ...string) *portfolio.StrategyConfig {
	return &portfolio.StrategyConfig{
		Strategy: "always_buy",
		Parameters: map[string]float64{
			strategies.ParamPositionSizeRatio: 0.5,
			strategies.ParamStopLossPct:       5,
			strategies.ParamTakeProfitPct:     10,
		},
		Symbols: symbols,
	}
}

func TestEvaluate_BuysWhenFlat(t *testing.T) {
	trader, service, _ := setupTrader(t, Config{})
	p, err := service.Create("live", 1000, buyConfig("A"))
	require.NoError(t, err)

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Portfolios)
	assert.Equal(t, 1, result.Evaluated)
	require.Len(t, result.Orders, 1)

	order := result.Orders[0]
	assert.Equal(t, portfolio.SideBuy, order.Side)
	assert.Equal(t, 5.0, order.Quantity)
	assert.Equal(t, portfolio.ReasonSignal, order.Reason)

	pos, held := p.Position("A")
	require.True(t, held)
	require.NotNil(t, pos.StopLossPct)
	assert.Equal(t, 5.0, *pos.StopLossPct)
	assert.Equal(t, 500.0, p.Cash())

	// Already holding: a second buy signal is ignored
	result, err = trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
}

func TestEvaluate_SellsFullPosition(t *testing.T) {
	trader, service, prices := setupTrader(t, Config{})
	p, err := service.Create("live", 10_000, nil)
	require.NoError(t, err)
	_, err = service.Buy(p.ID(), "A", 7, 90, nil, nil)
	require.NoError(t, err)
	require.NoError(t, service.SetStrategy(p.ID(), &portfolio.StrategyConfig{Strategy: "always_sell", Symbols: []string{"A", "B"}}))
	prices.SetPrice("A", 110)

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, portfolio.SideSell, result.Orders[0].Side)
	assert.Equal(t, 7.0, result.Orders[0].Quantity)
	assert.Equal(t, 2, result.Evaluated)

	_, held := p.Position("A")
	assert.False(t, held)
	assert.InDelta(t, 10_000-630+770, p.Cash(), 1e-9)
}

func TestEvaluate_FallsBackToDefaultSymbols(t *testing.T) {
	trader, service, _ := setupTrader(t, Config{Symbols: []string{"A", "B"}})
	p, err := service.Create("live", 10_000, buyConfig())
	require.NoError(t, err)

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Orders, 2)
	assert.Len(t, p.Positions(), 2)
}

func TestEvaluate_SkipsUnavailableData(t *testing.T) {
	trader, service, _ := setupTrader(t, Config{})
	_, err := service.Create("live", 10_000, buyConfig("A", "MISSING"))
	require.NoError(t, err)

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, result.Orders, 1)
}

func TestEvaluate_IgnoresPortfoliosWithoutUsableStrategy(t *testing.T) {
	trader, service, prices := setupTrader(t, Config{Symbols: []string{"A"}})
	_, err := service.Create("idle", 10_000, nil)
	require.NoError(t, err)
	_, err = service.Create("stale", 10_000, &portfolio.StrategyConfig{Strategy: "retired"})
	require.NoError(t, err)

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Portfolios)
	assert.Equal(t, 0, prices.Calls())
}

func TestEvaluate_BuyCooldown(t *testing.T) {
	trader, service, _ := setupTrader(t, Config{BuyCooldown: time.Hour})
	p, err := service.Create("live", 10_000, nil)
	require.NoError(t, err)
	_, err = service.Buy(p.ID(), "A", 1, 100, nil, nil)
	require.NoError(t, err)
	_, err = service.Sell(p.ID(), "A", 1, 100, portfolio.ReasonManual)
	require.NoError(t, err)
	require.NoError(t, service.SetStrategy(p.ID(), buyConfig("A")))

	result, err := trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Equal(t, 1, result.Skipped)

	trader.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	result, err = trader.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Orders, 1)
}

func TestEvaluate_CancelledContext(t *testing.T) {
	trader, _, _ := setupTrader(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trader.Evaluate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, trader.LastResult())
}

func TestRun_AsJob(t *testing.T) {
	trader, service, _ := setupTrader(t, Config{})
	_, err := service.Create("live", 1000, buyConfig("A"))
	require.NoError(t, err)

	assert.Equal(t, "live_trader", trader.Name())
	require.NoError(t, trader.Run())
	require.NotNil(t, trader.LastResult())
	assert.Len(t, trader.LastResult().Orders, 1)

	trader.Close()
	assert.Error(t, trader.Run())
}
