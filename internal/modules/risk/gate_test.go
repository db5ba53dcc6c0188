package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

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

type fixture struct {
	gate    *Gate
	service *portfolio.Service
	prices  *testingpkg.MockPriceSource
	events  *recordedEvents
	bus     *events.Bus
}

func setupGate(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	bus := events.NewBus(log)
	rec := &recordedEvents{}
	bus.SubscribeAll(rec.handle)
	manager := events.NewManager(bus, log)

	service := portfolio.NewService(nil, manager, 0, log)
	prices := testingpkg.NewMockPriceSource()
	gate := NewGate(service, prices, time.Second, manager, log)
	t.Cleanup(gate.Close)

	return &fixture{gate: gate, service: service, prices: prices, events: rec, bus: bus}
}

// openPosition buys 10 shares at 50,000 with a 5% stop and 10% target
func (f *fixture) openPosition(t *testing.T, name string) *portfolio.VirtualPortfolio {
	t.Helper()
	p, err := f.service.Create(name, 1_000_000, nil)
	require.NoError(t, err)
	_, err = f.service.Buy(p.ID(), "005930", 10, 50_000, ptr(5), ptr(10))
	require.NoError(t, err)
	return p
}

func TestGate_Thresholds(t *testing.T) {
	tests := []struct {
		name         string
		price        float64
		wantReason   portfolio.Reason
		wantTrigger  float64
		wantEvent    events.EventType
		positionLeft bool
	}{
		{name: "stop loss", price: 47_000, wantReason: portfolio.ReasonStopLoss, wantTrigger: 47_500, wantEvent: events.StopLossTriggered},
		{name: "take profit", price: 56_000, wantReason: portfolio.ReasonTakeProfit, wantTrigger: 55_000, wantEvent: events.TakeProfitTriggered},
		{name: "exactly at stop", price: 47_500, wantReason: portfolio.ReasonStopLoss, wantTrigger: 47_500, wantEvent: events.StopLossTriggered},
		{name: "exactly at target", price: 55_000, wantReason: portfolio.ReasonTakeProfit, wantTrigger: 55_000, wantEvent: events.TakeProfitTriggered},
		{name: "inside band", price: 51_000, positionLeft: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupGate(t)
			p := f.openPosition(t, "alpha")
			f.prices.SetPrice("005930", tt.price)

			result, err := f.gate.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, result.Checked)

			_, held := p.Position("005930")
			assert.Equal(t, tt.positionLeft, held)

			if tt.positionLeft {
				assert.Empty(t, result.Exits)
				assert.Empty(t, f.events.ofType(events.StopLossTriggered))
				assert.Empty(t, f.events.ofType(events.TakeProfitTriggered))
				return
			}

			require.Len(t, result.Exits, 1)
			exit := result.Exits[0]
			assert.Equal(t, tt.wantReason, exit.Reason)
			assert.Equal(t, 10.0, exit.Quantity)
			assert.Equal(t, tt.price, exit.Price)
			assert.InDelta(t, tt.wantTrigger, exit.TriggerPrice, 1e-6)
			assert.InDelta(t, 1_000_000-500_000+10*tt.price, p.Cash(), 1e-6)

			notified := f.events.ofType(tt.wantEvent)
			require.Len(t, notified, 1)
			assert.Equal(t, p.ID(), notified[0].Data["portfolio_id"])
			assert.Equal(t, string(tt.wantReason), notified[0].Data["reason"])
			assert.InDelta(t, 10*(tt.price-50_000), notified[0].Data["realized_profit"], 1e-6)

			trades := p.Trades()
			assert.Equal(t, tt.wantReason, trades[len(trades)-1].Reason)
		})
	}
}

func TestGate_PriceUnavailableSkips(t *testing.T) {
	f := setupGate(t)
	p := f.openPosition(t, "alpha")

	result, err := f.gate.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Exits)

	_, held := p.Position("005930")
	assert.True(t, held)
}

func TestGate_ExemptWithoutRiskParams(t *testing.T) {
	f := setupGate(t)
	p, err := f.service.Create("alpha", 1_000_000, nil)
	require.NoError(t, err)
	_, err = f.service.Buy(p.ID(), "005930", 10, 50_000, nil, nil)
	require.NoError(t, err)
	f.prices.SetPrice("005930", 1)

	result, err := f.gate.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Exits)
	assert.Equal(t, 0, f.prices.Calls())

	_, held := p.Position("005930")
	assert.True(t, held)
}

func TestGate_PriceFetchedOncePerSymbol(t *testing.T) {
	f := setupGate(t)
	a := f.openPosition(t, "alpha")
	b := f.openPosition(t, "beta")
	f.prices.SetPrice("005930", 40_000)

	result, err := f.gate.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Exits, 2)
	assert.Equal(t, 1, f.prices.Calls())

	for _, p := range []*portfolio.VirtualPortfolio{a, b} {
		_, held := p.Position("005930")
		assert.False(t, held)
	}
}

func TestGate_CancelledBeforeStart(t *testing.T) {
	f := setupGate(t)
	p := f.openPosition(t, "alpha")
	f.prices.SetPrice("005930", 40_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.gate.Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, held := p.Position("005930")
	assert.True(t, held)
	assert.Nil(t, f.gate.LastResult())
}

func TestGate_SinkFailureDoesNotStopGate(t *testing.T) {
	f := setupGate(t)
	f.bus.Subscribe(events.StopLossTriggered, func(*events.Event) { panic("sink down") })
	a := f.openPosition(t, "alpha")
	b := f.openPosition(t, "beta")
	f.prices.SetPrice("005930", 40_000)

	result, err := f.gate.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Exits, 2)

	_, heldA := a.Position("005930")
	_, heldB := b.Position("005930")
	assert.False(t, heldA)
	assert.False(t, heldB)
}

func TestGate_RunAsJob(t *testing.T) {
	f := setupGate(t)
	f.openPosition(t, "alpha")
	f.prices.SetPrice("005930", 60_000)

	assert.Equal(t, "risk_gate", f.gate.Name())
	require.NoError(t, f.gate.Run())

	last := f.gate.LastResult()
	require.NotNil(t, last)
	require.Len(t, last.Exits, 1)
	assert.Equal(t, portfolio.ReasonTakeProfit, last.Exits[0].Reason)

	f.gate.Close()
	assert.Error(t, f.gate.Run())
}
