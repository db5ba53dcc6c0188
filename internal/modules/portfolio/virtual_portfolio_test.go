package portfolio

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func newTestPortfolio(t *testing.T, capital float64) *VirtualPortfolio {
	t.Helper()
	p, err := New(Meta{ID: "p1", Name: "test", InitialCapital: capital})
	require.NoError(t, err)
	return p
}

type failingRecorder struct {
	fail    bool
	records []Trade
}

func (r *failingRecorder) RecordTrade(trade Trade) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.records = append(r.records, trade)
	return nil
}

func TestNew_RejectsBadCapital(t *testing.T) {
	for _, capital := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := New(Meta{InitialCapital: capital})
		assert.ErrorIs(t, err, ErrInvalidCapital)
	}

	_, err := New(Meta{InitialCapital: 100, FeeRate: -0.1})
	assert.Error(t, err)
}

func TestBuySellRoundTrip(t *testing.T) {
	p := newTestPortfolio(t, 1_000_000)

	buy, err := p.Buy("005930", 10, 50000, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, SideBuy, buy.Side)
	assert.Nil(t, buy.RealizedProfit)
	assert.Equal(t, 500_000.0, p.Cash())

	pos, ok := p.Position("005930")
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 50_000.0, pos.AvgCost)

	sell, err := p.Sell("005930", 10, 55000, ReasonManual)
	require.NoError(t, err)
	require.NotNil(t, sell.RealizedProfit)
	assert.Equal(t, 50_000.0, *sell.RealizedProfit)
	assert.Equal(t, ReasonManual, sell.Reason)
	assert.Equal(t, 1_050_000.0, p.Cash())

	_, ok = p.Position("005930")
	assert.False(t, ok, "position removed once quantity reaches zero")
}

func TestBuy_ExactCashBoundary(t *testing.T) {
	p := newTestPortfolio(t, 500_000)

	_, err := p.Buy("005930", 10, 50000.01, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 500_000.0, p.Cash(), "rejected order leaves cash untouched")

	_, err = p.Buy("005930", 10, 50000, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Cash())

	_, err = p.Buy("005930", 1, 1, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBuy_ExactCashBoundary_LargeCapital(t *testing.T) {
	p := newTestPortfolio(t, 1e10)

	_, err := p.Buy("A", 1, 1e10+1, nil, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1e10, p.Cash())
	assert.Empty(t, p.Trades())

	_, err = p.Buy("A", 1, 1e10, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Cash())
	assert.InDelta(t, 1e10, p.MarketValue(map[string]float64{"A": 1e10}), 1e-6)
}

func TestOrderValidation(t *testing.T) {
	p := newTestPortfolio(t, 1_000_000)
	_, err := p.Buy("A", 5, 100, nil, nil)
	require.NoError(t, err)

	testCases := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero quantity buy", func() error { _, err := p.Buy("A", 0, 100, nil, nil); return err }, ErrInvalidQuantity},
		{"negative quantity buy", func() error { _, err := p.Buy("A", -1, 100, nil, nil); return err }, ErrInvalidQuantity},
		{"NaN quantity", func() error { _, err := p.Buy("A", math.NaN(), 100, nil, nil); return err }, ErrInvalidQuantity},
		{"zero price", func() error { _, err := p.Buy("A", 1, 0, nil, nil); return err }, ErrInvalidPrice},
		{"sell without position", func() error { _, err := p.Sell("B", 1, 100, ReasonManual); return err }, ErrNoPosition},
		{"sell too many", func() error { _, err := p.Sell("A", 6, 100, ReasonManual); return err }, ErrInsufficientQuantity},
		{"sell zero", func() error { _, err := p.Sell("A", 0, 100, ReasonManual); return err }, ErrInvalidQuantity},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsOrderRejection(err))
		})
	}

	pos, _ := p.Position("A")
	assert.Equal(t, 5.0, pos.Quantity)
	assert.Len(t, p.Trades(), 1)
}

func TestBuy_AveragesAndRederivesRiskPrices(t *testing.T) {
	p := newTestPortfolio(t, 10_000_000)

	_, err := p.Buy("A", 10, 100, ptr(5), ptr(10))
	require.NoError(t, err)
	_, err = p.Buy("A", 30, 200, nil, nil)
	require.NoError(t, err)

	pos, ok := p.Position("A")
	require.True(t, ok)
	assert.Equal(t, 40.0, pos.Quantity)
	assert.InDelta(t, 175.0, pos.AvgCost, 1e-9)

	require.NotNil(t, pos.StopLossPrice())
	assert.InDelta(t, 166.25, *pos.StopLossPrice(), 1e-9, "nil pcts keep previous settings relative to the new cost")
	assert.InDelta(t, 192.5, *pos.TakeProfitPrice(), 1e-9)

	_, err = p.Sell("A", 15, 180, ReasonManual)
	require.NoError(t, err)
	pos, _ = p.Position("A")
	assert.Equal(t, 25.0, pos.Quantity)
	assert.InDelta(t, 175.0, pos.AvgCost, 1e-9, "partial sells leave avg cost unchanged")
}

func TestSymbolsAreNormalised(t *testing.T) {
	p := newTestPortfolio(t, 10_000)

	_, err := p.Buy(" aapl ", 1, 100, nil, nil)
	require.NoError(t, err)
	_, ok := p.Position("AAPL")
	assert.True(t, ok)
	_, err = p.Sell("aapl", 1, 100, ReasonManual)
	assert.NoError(t, err)
}

func TestEvaluateRisk_StopLossAndTakeProfit(t *testing.T) {
	testCases := []struct {
		name        string
		price       float64
		wantReason  Reason
		wantTrigger float64
	}{
		{"stop loss", 47000, ReasonStopLoss, 47500},
		{"take profit", 56000, ReasonTakeProfit, 55000},
		{"exactly at stop", 47500, ReasonStopLoss, 47500},
		{"exactly at target", 55000, ReasonTakeProfit, 55000},
		{"inside band", 50500, "", 0},
		{"just below target", 54999.99, "", 0},
		{"just above stop", 47500.01, "", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPortfolio(t, 1_000_000)
			_, err := p.Buy("005930", 10, 50000, ptr(5), ptr(10))
			require.NoError(t, err)

			trade, trigger, err := p.EvaluateRisk("005930", tc.price, time.Time{})
			require.NoError(t, err)

			if tc.wantReason == "" {
				assert.Nil(t, trade)
				_, ok := p.Position("005930")
				assert.True(t, ok)
				return
			}
			require.NotNil(t, trade)
			assert.Equal(t, tc.wantReason, trade.Reason)
			assert.Equal(t, 10.0, trade.Quantity, "full quantity is liquidated")
			assert.InDelta(t, tc.wantTrigger, trigger, 1e-6)
			_, ok := p.Position("005930")
			assert.False(t, ok)
		})
	}
}

func TestEvaluateRisk_StopAtRoundedLevel(t *testing.T) {
	// 70000 * (1 - 0.07) is not exactly 65100 in binary floating point
	p := newTestPortfolio(t, 1_000_000)
	_, err := p.Buy("A", 1, 70000, ptr(7), nil)
	require.NoError(t, err)

	trade, trigger, err := p.EvaluateRisk("A", 65100, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, ReasonStopLoss, trade.Reason)
	assert.InDelta(t, 65100, trigger, 1e-6)
}

func TestEvaluateRisk_InvalidParamsAreExempt(t *testing.T) {
	p := newTestPortfolio(t, 1_000_000)

	// A stop at or above cost is invalid
	_, err := p.Buy("A", 1, 100, ptr(0), ptr(10))
	require.NoError(t, err)
	pos, _ := p.Position("A")
	assert.False(t, pos.RiskParamsValid())

	trade, _, err := p.EvaluateRisk("A", 50, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, trade)

	// No thresholds at all
	_, err = p.Buy("B", 1, 100, nil, nil)
	require.NoError(t, err)
	trade, _, err = p.EvaluateRisk("B", 1, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestExecute_RecorderFailureLeavesStateUntouched(t *testing.T) {
	rec := &failingRecorder{}
	p, err := New(Meta{ID: "p1", InitialCapital: 1000}, WithRecorder(rec))
	require.NoError(t, err)

	_, err = p.Buy("A", 1, 100, nil, nil)
	require.NoError(t, err)
	require.Len(t, rec.records, 1)

	rec.fail = true
	_, err = p.Buy("A", 1, 100, nil, nil)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 900.0, p.Cash())
	assert.Len(t, p.Trades(), 1)

	pos, _ := p.Position("A")
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestFees(t *testing.T) {
	p, err := New(Meta{ID: "p1", InitialCapital: 1_010, FeeRate: 0.01})
	require.NoError(t, err)

	buy, err := p.Buy("A", 10, 100, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, buy.Fee, 1e-9)
	assert.InDelta(t, 0.0, p.Cash(), 1e-9, "cost plus fee may use the entire balance")

	sell, err := p.Sell("A", 10, 110, ReasonManual)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, sell.Fee, 1e-9)
	assert.InDelta(t, 100.0, *sell.RealizedProfit, 1e-9, "realized profit is gross of fees")
	assert.InDelta(t, 1089.0, p.Cash(), 1e-9)
}

// cash + Σ qty × avg_cost == initial + realized − fees, and cash never goes negative
func TestValueConservation_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"A", "B", "C"}

	for run := 0; run < 50; run++ {
		p, err := New(Meta{ID: "p", InitialCapital: 100_000, FeeRate: 0.0015})
		require.NoError(t, err)

		var realized, fees float64
		for step := 0; step < 200; step++ {
			sym := symbols[rng.Intn(len(symbols))]
			price := 10 + rng.Float64()*190
			qty := float64(1 + rng.Intn(50))

			var trade *Trade
			if rng.Intn(2) == 0 {
				trade, err = p.Buy(sym, qty, price, nil, nil)
			} else {
				trade, err = p.Sell(sym, qty, price, ReasonManual)
			}
			if err != nil {
				require.True(t, IsOrderRejection(err), "unexpected error %v", err)
				continue
			}
			fees += trade.Fee
			if trade.RealizedProfit != nil {
				realized += *trade.RealizedProfit
			}

			require.GreaterOrEqual(t, p.Cash(), 0.0)
			costBasis := 0.0
			for _, pos := range p.Positions() {
				require.Greater(t, pos.Quantity, 0.0)
				costBasis += pos.Quantity * pos.AvgCost
			}
			require.InDelta(t, 100_000+realized-fees, p.Cash()+costBasis, 1e-6)
		}
	}
}

func TestReplayLedger_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	live, err := New(Meta{ID: "p", InitialCapital: 50_000, FeeRate: 0.001})
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		sym := []string{"X", "Y"}[rng.Intn(2)]
		price := 50 + rng.Float64()*50
		if rng.Intn(3) == 0 {
			_, _ = live.Sell(sym, float64(1+rng.Intn(20)), price, ReasonSignal)
		} else {
			_, _ = live.Buy(sym, float64(1+rng.Intn(20)), price, ptr(5), ptr(10))
		}
	}

	replayed, err := ReplayLedger(live.Meta(), live.Trades())
	require.NoError(t, err)

	assert.InDelta(t, live.Cash(), replayed.Cash(), 1e-6)
	assert.Equal(t, live.Positions(), replayed.Positions())

	prices := map[string]float64{"X": 75, "Y": 80}
	liveMetrics, err := live.ComputeMetrics(prices)
	require.NoError(t, err)
	assert.InDelta(t, live.Cash(), liveMetrics.CashBalance, 1e-6)
	assert.InDelta(t, live.MarketValue(prices), liveMetrics.TotalAssets, 1e-6)
}

func TestReplayLedger_RejectsCorruptLedger(t *testing.T) {
	trades := []Trade{{ID: "t1", Symbol: "A", Side: SideSell, Quantity: 1, Price: 10}}

	_, err := ReplayLedger(Meta{ID: "p", InitialCapital: 100}, trades)
	assert.ErrorIs(t, err, ErrCorruptLedger)
}

func TestComputeMetrics(t *testing.T) {
	p := newTestPortfolio(t, 1_000_000)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(days int) time.Time { return clock.AddDate(0, 0, days) }

	_, err := p.Execute(Order{Symbol: "A", Side: SideBuy, Quantity: 10, Price: 50000, At: at(0)})
	require.NoError(t, err)
	_, err = p.Execute(Order{Symbol: "A", Side: SideSell, Quantity: 10, Price: 45000, At: at(1)})
	require.NoError(t, err)
	_, err = p.Execute(Order{Symbol: "B", Side: SideBuy, Quantity: 10, Price: 10000, At: at(2)})
	require.NoError(t, err)
	_, err = p.Execute(Order{Symbol: "B", Side: SideSell, Quantity: 5, Price: 12000, At: at(3)})
	require.NoError(t, err)

	m, err := p.ComputeMetrics(map[string]float64{"B": 14000})
	require.NoError(t, err)

	assert.Equal(t, 4, m.TradeCount)
	assert.Equal(t, 2, m.ClosedTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, -50_000+10_000, m.RealizedProfit, 1e-9)
	assert.InDelta(t, 910_000, m.CashBalance, 1e-9)
	assert.InDelta(t, 70_000, m.PositionsValue, 1e-9)
	assert.InDelta(t, 980_000, m.TotalAssets, 1e-9)
	assert.InDelta(t, -0.02, m.ReturnRate, 1e-9)
	assert.InDelta(t, 0.05, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, m.OpenPositions)
}

func TestSnapshotIsConsistent(t *testing.T) {
	p := newTestPortfolio(t, 10_000)
	p.SetStrategy(&StrategyConfig{Strategy: "momentum", Parameters: map[string]float64{"momentum_period": 10}})
	_, err := p.Buy("A", 10, 100, nil, nil)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, 9_000.0, snap.CashBalance)
	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, 1, snap.TradeCount)
	require.NotNil(t, snap.Strategy)

	snap.Strategy.Parameters["momentum_period"] = 99
	assert.Equal(t, 10.0, p.Strategy().Parameters["momentum_period"], "snapshots are copies")
}
