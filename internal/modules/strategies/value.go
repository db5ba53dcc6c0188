package strategies

import "github.com/aristath/evotrader/internal/domain"

// Value buys cheap valuations and sells when the multiple re-rates.
// Without fundamentals it always holds.
type Value struct{}

func (s *Value) Name() string { return "value" }

func (s *Value) Description() string {
	return "Low PER/PBR value investing; requires fundamentals"
}

func (s *Value) Schema() Schema {
	return withRisk(Schema{
		{Name: "max_per", Min: 5, Max: 25},
		{Name: "max_pbr", Min: 0.5, Max: 3},
	})
}

func (s *Value) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	f := snap.Fundamentals
	if f == nil || f.PER <= 0 || f.PBR <= 0 {
		return domain.SignalHold
	}
	maxPER := p.Get("max_per", 15)

	if !pos.Held() {
		if f.PER <= maxPER && f.PBR <= p.Get("max_pbr", 1.5) {
			return domain.SignalBuy
		}
		return domain.SignalHold
	}
	if f.PER > maxPER*1.5 {
		return domain.SignalSell
	}
	return domain.SignalHold
}
