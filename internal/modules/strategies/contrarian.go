package strategies

import "github.com/aristath/evotrader/internal/domain"

// Contrarian buys sharp drops and sells once price rebounds above cost
type Contrarian struct{}

func (s *Contrarian) Name() string { return "contrarian" }

func (s *Contrarian) Description() string {
	return "Buy after a sharp decline, take the rebound"
}

func (s *Contrarian) Schema() Schema {
	return withRisk(Schema{
		{Name: "drop_period", Min: 3, Max: 20, Integer: true},
		{Name: "drop_pct", Min: 3, Max: 20},
		{Name: "rebound_pct", Min: 2, Max: 15},
	})
}

func (s *Contrarian) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	if pos.Held() {
		if pos.AvgCost > 0 && snap.Close() >= pos.AvgCost*(1+p.Get("rebound_pct", 5)/100) {
			return domain.SignalSell
		}
		return domain.SignalHold
	}

	roc, ok := snap.ROC(p.Int("drop_period", 5))
	if ok && roc <= -p.Get("drop_pct", 8) {
		return domain.SignalBuy
	}
	return domain.SignalHold
}
