package strategies

import "github.com/aristath/evotrader/internal/domain"

// Breakout buys a close above the recent range on elevated volume and exits
// when price falls through the low of a shorter exit window.
type Breakout struct{}

func (s *Breakout) Name() string { return "breakout" }

func (s *Breakout) Description() string {
	return "Channel breakout confirmed by volume"
}

func (s *Breakout) Schema() Schema {
	return withRisk(Schema{
		{Name: "breakout_period", Min: 10, Max: 60, Integer: true},
		{Name: "exit_period", Min: 5, Max: 30, Integer: true},
		{Name: "volume_factor", Min: 1.0, Max: 3.0},
	})
}

func (s *Breakout) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	price := snap.Close()

	if !pos.Held() {
		period := p.Int("breakout_period", 20)
		high, ok := snap.HighestHigh(period)
		if !ok {
			return domain.SignalHold
		}
		avgVol, ok := snap.AverageVolume(period)
		if !ok {
			return domain.SignalHold
		}
		if price > high && snap.Bar().Volume >= p.Get("volume_factor", 1.5)*avgVol {
			return domain.SignalBuy
		}
		return domain.SignalHold
	}

	low, ok := snap.LowestLow(p.Int("exit_period", 10))
	if ok && price < low {
		return domain.SignalSell
	}
	return domain.SignalHold
}
