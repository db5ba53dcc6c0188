package portfolio

import (
	"sync"
	"testing"

	"github.com/aristath/evotrader/internal/events"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recordedEvents) handle(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) ofType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func setupService(t *testing.T) (*Service, *Repository, *recordedEvents) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)

	log := zerolog.Nop()
	bus := events.NewBus(log)
	rec := &recordedEvents{}
	bus.SubscribeAll(rec.handle)

	repo := NewRepository(db.Conn(), log)
	return NewService(repo, events.NewManager(bus, log), 0, log), repo, rec
}

func TestService_CreateTradeAndReload(t *testing.T) {
	svc, repo, rec := setupService(t)

	p, err := svc.Create("alpha", 1_000_000, nil)
	require.NoError(t, err)
	assert.Len(t, rec.ofType(events.PortfolioCreated), 1)

	_, err = svc.Buy(p.ID(), "005930", 10, 50000, ptr(5), ptr(10))
	require.NoError(t, err)
	trade, err := svc.Sell(p.ID(), "005930", 4, 55000, ReasonManual)
	require.NoError(t, err)
	assert.InDelta(t, 20_000, *trade.RealizedProfit, 1e-9)
	assert.Len(t, rec.ofType(events.TradeExecuted), 2)

	// A fresh service over the same store rebuilds identical state
	reloaded := NewService(repo, nil, 0, zerolog.Nop())
	require.NoError(t, reloaded.Load())

	got, err := reloaded.Get(p.ID())
	require.NoError(t, err)
	assert.InDelta(t, p.Cash(), got.Cash(), 1e-6)
	pos, ok := got.Position("005930")
	require.True(t, ok)
	assert.Equal(t, 6.0, pos.Quantity)
	assert.Equal(t, 50_000.0, pos.AvgCost)
	require.NotNil(t, pos.StopLossPct)
	assert.Equal(t, 5.0, *pos.StopLossPct)

	// Reloaded portfolios keep writing to the ledger
	_, err = reloaded.Sell(p.ID(), "005930", 6, 51000, ReasonManual)
	require.NoError(t, err)
	trades, err := repo.TradesByPortfolio(p.ID())
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestService_DeleteRequiresFlatPortfolio(t *testing.T) {
	svc, _, rec := setupService(t)

	p, err := svc.Create("alpha", 10_000, nil)
	require.NoError(t, err)
	_, err = svc.Buy(p.ID(), "A", 1, 100, nil, nil)
	require.NoError(t, err)

	err = svc.Delete(p.ID())
	assert.ErrorIs(t, err, ErrOpenPositions)
	_, err = svc.Get(p.ID())
	assert.NoError(t, err)

	_, err = svc.Sell(p.ID(), "A", 1, 100, ReasonManual)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(p.ID()))

	_, err = svc.Get(p.ID())
	assert.ErrorIs(t, err, ErrPortfolioNotFound)
	deleted := rec.ofType(events.PortfolioDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, p.ID(), deleted[0].Data["portfolio_id"])
}

func TestService_EvaluateRiskEmitsTrade(t *testing.T) {
	svc, _, rec := setupService(t)

	p, err := svc.Create("alpha", 1_000_000, nil)
	require.NoError(t, err)
	_, err = svc.Buy(p.ID(), "005930", 10, 50000, ptr(5), ptr(10))
	require.NoError(t, err)

	trade, trigger, err := svc.EvaluateRisk(p.ID(), "005930", 49000)
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Zero(t, trigger)

	trade, trigger, err = svc.EvaluateRisk(p.ID(), "005930", 47000)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, ReasonStopLoss, trade.Reason)
	assert.InDelta(t, 47_500, trigger, 1e-6)
	assert.InDelta(t, -30_000, *trade.RealizedProfit, 1e-9)

	executed := rec.ofType(events.TradeExecuted)
	require.Len(t, executed, 2)
	assert.Equal(t, "stop_loss", executed[1].Data["reason"])
}

func TestService_SetStrategyPersists(t *testing.T) {
	svc, repo, _ := setupService(t)

	p, err := svc.Create("alpha", 10_000, nil)
	require.NoError(t, err)

	cfg := &StrategyConfig{Strategy: "breakout", Parameters: map[string]float64{"breakout_period": 20}}
	require.NoError(t, svc.SetStrategy(p.ID(), cfg))
	assert.Equal(t, "breakout", p.Strategy().Strategy)

	sp, err := repo.GetPortfolio(p.ID())
	require.NoError(t, err)
	assert.Equal(t, "breakout", sp.Strategy.Strategy)

	assert.ErrorIs(t, svc.SetStrategy("missing", cfg), ErrPortfolioNotFound)
}

func TestService_InMemory(t *testing.T) {
	svc := NewService(nil, nil, 0.001, zerolog.Nop())

	a, err := svc.Create("", 100, nil)
	require.NoError(t, err)
	assert.Contains(t, a.Meta().Name, "portfolio-")
	assert.Equal(t, 0.001, a.Meta().FeeRate)

	_, err = svc.Create("b", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidCapital)

	_, err = svc.Create("c", 100, nil)
	require.NoError(t, err)
	assert.Len(t, svc.List(), 2)

	m, err := svc.Metrics(a.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.TotalAssets)
}
