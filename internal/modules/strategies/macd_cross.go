package strategies

import "github.com/aristath/evotrader/internal/domain"

// MACDCross trades crossings of the MACD line over its signal line
type MACDCross struct{}

func (s *MACDCross) Name() string { return "macd_cross" }

func (s *MACDCross) Description() string {
	return "Buy on bullish MACD crossover, sell on bearish crossover"
}

func (s *MACDCross) Schema() Schema {
	return withRisk(Schema{
		{Name: "macd_fast", Min: 5, Max: 15, Integer: true},
		{Name: "macd_slow", Min: 20, Max: 40, Integer: true},
		{Name: "macd_signal", Min: 5, Max: 15, Integer: true},
	})
}

func (s *MACDCross) Decide(snap *MarketSnapshot, pos PositionState, p Params) domain.Signal {
	fast, slow, signal := p.Int("macd_fast", 12), p.Int("macd_slow", 26), p.Int("macd_signal", 9)

	macd, sig, ok := snap.MACD(fast, slow, signal, 0)
	if !ok {
		return domain.SignalHold
	}
	prevMACD, prevSig, ok := snap.MACD(fast, slow, signal, 1)
	if !ok {
		return domain.SignalHold
	}

	crossedUp := prevMACD <= prevSig && macd > sig
	crossedDown := prevMACD >= prevSig && macd < sig

	switch {
	case !pos.Held() && crossedUp:
		return domain.SignalBuy
	case pos.Held() && crossedDown:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}
