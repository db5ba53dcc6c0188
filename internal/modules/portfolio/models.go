// Package portfolio provides virtual portfolio simulation: cash, positions,
// an append-only trade ledger and performance metrics derived from it.
package portfolio

import (
	"time"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Reason records why a trade happened
type Reason string

const (
	ReasonManual     Reason = "manual"
	ReasonStopLoss   Reason = "stop_loss"
	ReasonTakeProfit Reason = "take_profit"
	ReasonSignal     Reason = "signal"
)

// Trade is one immutable ledger entry
type Trade struct {
	ID             string    `json:"id"`
	PortfolioID    string    `json:"portfolio_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	Fee            float64   `json:"fee"`
	RealizedProfit *float64  `json:"realized_profit"` // Sell only
	Reason         Reason    `json:"reason"`
	StopLossPct    *float64  `json:"stop_loss_pct,omitempty"`   // Buy only
	TakeProfitPct  *float64  `json:"take_profit_pct,omitempty"` // Buy only
	ExecutedAt     time.Time `json:"executed_at"`
}

// Value is quantity × price
func (t Trade) Value() float64 {
	return t.Quantity * t.Price
}

// Position is an open holding in one symbol
type Position struct {
	PortfolioID   string    `json:"portfolio_id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgCost       float64   `json:"avg_cost"`
	StopLossPct   *float64  `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *float64  `json:"take_profit_pct,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// StopLossPrice is derived from the average cost, nil when no stop is set
func (p Position) StopLossPrice() *float64 {
	if p.StopLossPct == nil {
		return nil
	}
	v := p.AvgCost * (1 - *p.StopLossPct/100)
	return &v
}

// TakeProfitPrice is derived from the average cost, nil when no target is set
func (p Position) TakeProfitPrice() *float64 {
	if p.TakeProfitPct == nil {
		return nil
	}
	v := p.AvgCost * (1 + *p.TakeProfitPct/100)
	return &v
}

// RiskParamsValid requires at least one threshold and
// stop_loss_price < avg_cost < take_profit_price for those that are set.
func (p Position) RiskParamsValid() bool {
	sl, tp := p.StopLossPrice(), p.TakeProfitPrice()
	if sl == nil && tp == nil {
		return false
	}
	if sl != nil && !(*sl < p.AvgCost) {
		return false
	}
	if tp != nil && !(*tp > p.AvgCost) {
		return false
	}
	return true
}

// StrategyConfig is the active strategy slot of a portfolio
type StrategyConfig struct {
	Strategy   string             `json:"strategy"`
	Parameters map[string]float64 `json:"parameters"`
	Symbols    []string           `json:"symbols,omitempty"`
	GenomeID   string             `json:"genome_id,omitempty"`
	Generation int                `json:"generation,omitempty"`
	Fitness    *float64           `json:"fitness,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Meta holds the immutable identity of a portfolio
type Meta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	InitialCapital float64   `json:"initial_capital"`
	FeeRate        float64   `json:"fee_rate"`
	CreatedAt      time.Time `json:"created_at"`
}

// Snapshot is a consistent read of a portfolio's state
type Snapshot struct {
	Meta
	CashBalance float64         `json:"cash_balance"`
	Positions   []Position      `json:"positions"`
	TradeCount  int             `json:"trade_count"`
	Strategy    *StrategyConfig `json:"strategy,omitempty"`
}

// Order is a request to trade
type Order struct {
	Symbol        string
	Side          Side
	Quantity      float64
	Price         float64
	Reason        Reason
	StopLossPct   *float64 // Buy only; nil keeps the position's current setting
	TakeProfitPct *float64 // Buy only; nil keeps the position's current setting
	At            time.Time
}
