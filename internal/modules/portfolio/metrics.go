package portfolio

import (
	"sort"

	"github.com/aristath/evotrader/pkg/formulas"
)

// PerformanceMetrics summarises a portfolio. Everything is derived from the
// trade ledger plus the supplied current prices.
type PerformanceMetrics struct {
	TotalAssets      float64 `json:"total_assets"`
	CashBalance      float64 `json:"cash_balance"`
	PositionsValue   float64 `json:"positions_value"`
	ReturnRate       float64 `json:"return_rate"`
	WinRate          float64 `json:"win_rate"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	RealizedProfit   float64 `json:"realized_profit"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	TotalFees        float64 `json:"total_fees"`
	TradeCount       int     `json:"trade_count"`
	ClosedTrades     int     `json:"closed_trades"`
	WinningTrades    int     `json:"winning_trades"`
	OpenPositions    int     `json:"open_positions"`
}

// ComputeMetrics replays trades from an empty portfolio. Open positions are
// valued at prices[symbol], falling back to the symbol's last traded price.
// The equity curve used for drawdown has one point per trade plus a final
// mark-to-market point.
func ComputeMetrics(meta Meta, trades []Trade, prices map[string]float64) (PerformanceMetrics, error) {
	p, err := New(meta)
	if err != nil {
		return PerformanceMetrics{}, err
	}

	m := PerformanceMetrics{TradeCount: len(trades)}
	lastPrice := make(map[string]float64)
	equity := []float64{meta.InitialCapital}

	for i, raw := range trades {
		t, err := p.validateReplay(raw)
		if err != nil {
			return PerformanceMetrics{}, err
		}
		t.Symbol = normaliseSymbol(t.Symbol)
		p.apply(t)

		lastPrice[t.Symbol] = t.Price
		m.TotalFees += t.Fee
		if t.Side == SideSell {
			m.ClosedTrades++
			m.RealizedProfit += *t.RealizedProfit
			if *t.RealizedProfit > 0 {
				m.WinningTrades++
			}
		}

		// Trades sharing a timestamp are one point on the curve
		if i+1 < len(trades) && trades[i+1].ExecutedAt.Equal(t.ExecutedAt) {
			continue
		}
		equity = append(equity, p.markToMarket(lastPrice))
	}

	for sym, price := range prices {
		if price > 0 {
			lastPrice[normaliseSymbol(sym)] = price
		}
	}

	m.CashBalance = p.cash
	for _, pos := range p.positions {
		price := lastPrice[pos.Symbol]
		m.PositionsValue += pos.Quantity * price
		m.UnrealizedProfit += pos.Quantity * (price - pos.AvgCost)
	}
	m.OpenPositions = len(p.positions)
	m.TotalAssets = m.CashBalance + m.PositionsValue
	m.ReturnRate = m.TotalAssets/meta.InitialCapital - 1
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades)
	}

	equity = append(equity, m.TotalAssets)
	m.MaxDrawdown = formulas.MaxDrawdown(equity)

	return m, nil
}

func (p *VirtualPortfolio) markToMarket(prices map[string]float64) float64 {
	total := p.cash
	for _, pos := range p.positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.AvgCost
		}
		total += pos.Quantity * price
	}
	return total
}

// ComputeMetrics derives metrics from this portfolio's ledger
func (p *VirtualPortfolio) ComputeMetrics(prices map[string]float64) (PerformanceMetrics, error) {
	p.mu.RLock()
	meta := p.meta
	trades := make([]Trade, len(p.trades))
	copy(trades, p.trades)
	p.mu.RUnlock()

	return ComputeMetrics(meta, trades, prices)
}

// MarketValue is cash plus open positions valued at prices (avg cost when missing)
func (p *VirtualPortfolio) MarketValue(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.markToMarket(prices)
}

// Symbols returns the symbols with open positions, sorted
func (p *VirtualPortfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
