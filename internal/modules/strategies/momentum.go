package strategies

import "github.com/aristath/evotrader/internal/domain"

// Momentum follows the trend: buy when price accelerates above its trend
// average, exit when momentum reverses or price loses the trend.
type Momentum struct{}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Description() string {
	return "Trend following on rate of change above a moving average"
}

func (s *Momentum) Schema() Schema {
	return withRisk(Schema{
		{Name: "momentum_period", Min: 5, Max: 60, Integer: true},
		{Name: "momentum_threshold", Min: 0.5, Max: 10},
		{Name: "trend_period", Min: 10, Max: 100, Integer: true},
	})
}

func (s *Momentum) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	roc, ok := snap.ROC(p.Int("momentum_period", 20))
	if !ok {
		return domain.SignalHold
	}
	trend, ok := snap.SMA(p.Int("trend_period", 50))
	if !ok {
		return domain.SignalHold
	}
	threshold := p.Get("momentum_threshold", 3)
	price := snap.Close()

	if !pos.Held() {
		if roc >= threshold && price > trend {
			return domain.SignalBuy
		}
		return domain.SignalHold
	}
	if roc <= -threshold || price < trend {
		return domain.SignalSell
	}
	return domain.SignalHold
}
