package strategies

import "github.com/aristath/evotrader/internal/domain"

// IndicatorThreshold trades RSI extremes. A negative AI score, when present,
// vetoes new entries.
type IndicatorThreshold struct{}

func (s *IndicatorThreshold) Name() string { return "indicator_threshold" }

func (s *IndicatorThreshold) Description() string {
	return "RSI oversold/overbought thresholds"
}

func (s *IndicatorThreshold) Schema() Schema {
	return withRisk(Schema{
		{Name: "rsi_period", Min: 5, Max: 30, Integer: true},
		{Name: "rsi_buy", Min: 10, Max: 45},
		{Name: "rsi_sell", Min: 55, Max: 90},
	})
}

func (s *IndicatorThreshold) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	rsi, ok := snap.RSI(p.Int("rsi_period", 14))
	if !ok {
		return domain.SignalHold
	}

	if !pos.Held() {
		if rsi < p.Get("rsi_buy", 30) && (snap.AIScore == nil || *snap.AIScore >= 0) {
			return domain.SignalBuy
		}
		return domain.SignalHold
	}
	if rsi > p.Get("rsi_sell", 70) {
		return domain.SignalSell
	}
	return domain.SignalHold
}
