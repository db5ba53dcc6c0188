package strategies

import "github.com/aristath/evotrader/internal/domain"

// MeanReversion buys below the lower Bollinger band and exits at the middle band
type MeanReversion struct{}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Description() string {
	return "Buy oversold closes below the lower Bollinger band, sell on reversion to the mean"
}

func (s *MeanReversion) Schema() Schema {
	return withRisk(Schema{
		{Name: "bb_period", Min: 10, Max: 40, Integer: true},
		{Name: "bb_std", Min: 1.5, Max: 3.0},
	})
}

func (s *MeanReversion) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	_, middle, lower, ok := snap.Bollinger(p.Int("bb_period", 20), p.Get("bb_std", 2))
	if !ok {
		return domain.SignalHold
	}
	price := snap.Close()

	if !pos.Held() {
		if price < lower {
			return domain.SignalBuy
		}
		return domain.SignalHold
	}
	if price >= middle {
		return domain.SignalSell
	}
	return domain.SignalHold
}
