package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// quantityEpsilon absorbs float noise when closing a position in full
const quantityEpsilon = 1e-9

// TradeRecorder persists a trade before it is applied to in-memory state
type TradeRecorder interface {
	RecordTrade(trade Trade) error
}

// Option configures a VirtualPortfolio
type Option func(*VirtualPortfolio)

// WithRecorder makes every executed trade durable before it takes effect
func WithRecorder(r TradeRecorder) Option {
	return func(p *VirtualPortfolio) { p.recorder = r }
}

// WithClock overrides time.Now for trade timestamps
func WithClock(now func() time.Time) Option {
	return func(p *VirtualPortfolio) { p.now = now }
}

// WithIDGenerator overrides the trade id generator
func WithIDGenerator(gen func() string) Option {
	return func(p *VirtualPortfolio) { p.newID = gen }
}

// WithStrategy sets the initial strategy configuration
func WithStrategy(cfg *StrategyConfig) Option {
	return func(p *VirtualPortfolio) { p.strategy = cloneStrategy(cfg) }
}

// VirtualPortfolio is a simulated account. All mutations are serialized by a
// per-portfolio lock; reads take a consistent snapshot under the read lock.
type VirtualPortfolio struct {
	mu        sync.RWMutex
	meta      Meta
	cash      float64
	positions map[string]*Position
	trades    []Trade
	strategy  *StrategyConfig
	recorder  TradeRecorder
	now       func() time.Time
	newID     func() string
}

// New creates an empty portfolio holding only its initial capital
func New(meta Meta, opts ...Option) (*VirtualPortfolio, error) {
	if !(meta.InitialCapital > 0) || math.IsInf(meta.InitialCapital, 0) {
		return nil, ErrInvalidCapital
	}
	if meta.FeeRate < 0 || meta.FeeRate >= 1 || math.IsNaN(meta.FeeRate) {
		return nil, fmt.Errorf("fee rate must be within [0,1), got %v", meta.FeeRate)
	}

	p := &VirtualPortfolio{
		cash:      meta.InitialCapital,
		positions: make(map[string]*Position),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}

	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = p.now()
	}
	p.meta = meta

	return p, nil
}

// ID returns the portfolio id
func (p *VirtualPortfolio) ID() string { return p.meta.ID }

// Meta returns the portfolio identity
func (p *VirtualPortfolio) Meta() Meta { return p.meta }

// Cash returns the current cash balance
func (p *VirtualPortfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Position returns the open position in symbol
func (p *VirtualPortfolio) Position(symbol string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[normaliseSymbol(symbol)]
	if !ok {
		return Position{}, false
	}
	return copyPosition(pos), true
}

// Positions returns all open positions sorted by symbol
func (p *VirtualPortfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionsLocked()
}

func (p *VirtualPortfolio) positionsLocked() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, copyPosition(pos))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the ledger, oldest first
func (p *VirtualPortfolio) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Strategy returns the active strategy configuration, nil when none
func (p *VirtualPortfolio) Strategy() *StrategyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneStrategy(p.strategy)
}

// SetStrategy replaces the active strategy configuration
func (p *VirtualPortfolio) SetStrategy(cfg *StrategyConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = cloneStrategy(cfg)
}

// Snapshot returns cash, positions and strategy read atomically
func (p *VirtualPortfolio) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Snapshot{
		Meta:        p.meta,
		CashBalance: p.cash,
		Positions:   p.positionsLocked(),
		TradeCount:  len(p.trades),
		Strategy:    cloneStrategy(p.strategy),
	}
}

// Buy opens or averages into a position. Nil percentages keep the
// position's current risk settings.
func (p *VirtualPortfolio) Buy(symbol string, quantity, price float64, stopLossPct, takeProfitPct *float64) (*Trade, error) {
	return p.Execute(Order{
		Symbol:        symbol,
		Side:          SideBuy,
		Quantity:      quantity,
		Price:         price,
		Reason:        ReasonManual,
		StopLossPct:   stopLossPct,
		TakeProfitPct: takeProfitPct,
	})
}

// Sell reduces or closes a position
func (p *VirtualPortfolio) Sell(symbol string, quantity, price float64, reason Reason) (*Trade, error) {
	return p.Execute(Order{
		Symbol:   symbol,
		Side:     SideSell,
		Quantity: quantity,
		Price:    price,
		Reason:   reason,
	})
}

// Execute validates an order, records the resulting trade and applies it.
// If the recorder fails nothing changes and ErrPersistence is returned.
func (p *VirtualPortfolio) Execute(order Order) (*Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	trade, err := p.prepare(order)
	if err != nil {
		return nil, err
	}
	return p.commit(trade)
}

// EvaluateRisk closes the whole position in symbol when price crosses its
// stop-loss or take-profit. Stop-loss wins when both are crossed. Positions
// without valid risk parameters are never touched. Returns a nil trade when
// nothing triggered; trigger is the threshold that was crossed.
func (p *VirtualPortfolio) EvaluateRisk(symbol string, price float64, at time.Time) (trade *Trade, trigger float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[normaliseSymbol(symbol)]
	if !ok || !pos.RiskParamsValid() {
		return nil, 0, nil
	}
	if !validPrice(price) {
		return nil, 0, ErrInvalidPrice
	}

	var reason Reason
	if sl := pos.StopLossPrice(); sl != nil && price <= *sl*(1+thresholdTolerance) {
		reason, trigger = ReasonStopLoss, *sl
	} else if tp := pos.TakeProfitPrice(); tp != nil && price >= *tp*(1-thresholdTolerance) {
		reason, trigger = ReasonTakeProfit, *tp
	} else {
		return nil, 0, nil
	}

	t, err := p.prepare(Order{
		Symbol:   pos.Symbol,
		Side:     SideSell,
		Quantity: pos.Quantity,
		Price:    price,
		Reason:   reason,
		At:       at,
	})
	if err != nil {
		return nil, 0, err
	}
	trade, err = p.commit(t)
	if err != nil {
		return nil, 0, err
	}
	return trade, trigger, nil
}

func (p *VirtualPortfolio) commit(trade Trade) (*Trade, error) {
	if p.recorder != nil {
		if err := p.recorder.RecordTrade(trade); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	p.apply(trade)
	return &trade, nil
}

// prepare turns an order into a trade against current state without mutating it
func (p *VirtualPortfolio) prepare(order Order) (Trade, error) {
	symbol := normaliseSymbol(order.Symbol)
	if symbol == "" {
		return Trade{}, fmt.Errorf("symbol is required")
	}
	if !(order.Quantity > 0) || math.IsInf(order.Quantity, 0) {
		return Trade{}, fmt.Errorf("%w: %v", ErrInvalidQuantity, order.Quantity)
	}
	if !validPrice(order.Price) {
		return Trade{}, fmt.Errorf("%w: %v", ErrInvalidPrice, order.Price)
	}

	at := order.At
	if at.IsZero() {
		at = p.now()
	}
	reason := order.Reason
	if reason == "" {
		reason = ReasonManual
	}

	trade := Trade{
		ID:          p.newID(),
		PortfolioID: p.meta.ID,
		Symbol:      symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       order.Price,
		Reason:      reason,
		ExecutedAt:  at,
	}

	pos := p.positions[symbol]

	switch order.Side {
	case SideBuy:
		trade.Fee = trade.Value() * p.meta.FeeRate
		if exceeds(trade.Value()+trade.Fee, p.cash) {
			return Trade{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, trade.Value()+trade.Fee, p.cash)
		}
		trade.StopLossPct = copyFloat(order.StopLossPct)
		trade.TakeProfitPct = copyFloat(order.TakeProfitPct)
		if pos != nil {
			if trade.StopLossPct == nil {
				trade.StopLossPct = copyFloat(pos.StopLossPct)
			}
			if trade.TakeProfitPct == nil {
				trade.TakeProfitPct = copyFloat(pos.TakeProfitPct)
			}
		}

	case SideSell:
		if pos == nil {
			return Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
		}
		if order.Quantity > pos.Quantity+quantityEpsilon {
			return Trade{}, fmt.Errorf("%w: selling %v of %v", ErrInsufficientQuantity, order.Quantity, pos.Quantity)
		}
		if math.Abs(order.Quantity-pos.Quantity) <= quantityEpsilon {
			trade.Quantity = pos.Quantity
		}
		trade.Fee = trade.Value() * p.meta.FeeRate
		profit := trade.Quantity * (trade.Price - pos.AvgCost)
		trade.RealizedProfit = &profit

	default:
		return Trade{}, fmt.Errorf("unknown side %q", order.Side)
	}

	return trade, nil
}

// apply mutates state for a trade already validated by prepare or replay
func (p *VirtualPortfolio) apply(t Trade) {
	switch t.Side {
	case SideBuy:
		p.cash -= t.Value() + t.Fee
		if pos, ok := p.positions[t.Symbol]; ok {
			total := pos.Quantity + t.Quantity
			pos.AvgCost = (pos.Quantity*pos.AvgCost + t.Value()) / total
			pos.Quantity = total
			pos.StopLossPct = copyFloat(t.StopLossPct)
			pos.TakeProfitPct = copyFloat(t.TakeProfitPct)
		} else {
			p.positions[t.Symbol] = &Position{
				PortfolioID:   p.meta.ID,
				Symbol:        t.Symbol,
				Quantity:      t.Quantity,
				AvgCost:       t.Price,
				StopLossPct:   copyFloat(t.StopLossPct),
				TakeProfitPct: copyFloat(t.TakeProfitPct),
				OpenedAt:      t.ExecutedAt,
			}
		}

	case SideSell:
		p.cash += t.Value() - t.Fee
		pos := p.positions[t.Symbol]
		pos.Quantity -= t.Quantity
		if pos.Quantity <= quantityEpsilon {
			delete(p.positions, t.Symbol)
		}
	}

	p.trades = append(p.trades, t)
}

// ReplayLedger rebuilds a portfolio from its trades, oldest first. The
// options are applied before replay but the recorder is not called for
// replayed trades.
func ReplayLedger(meta Meta, trades []Trade, opts ...Option) (*VirtualPortfolio, error) {
	p, err := New(meta, opts...)
	if err != nil {
		return nil, err
	}

	for i, raw := range trades {
		t, err := p.validateReplay(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %d (%s): %v", ErrCorruptLedger, i, t.ID, err)
		}
		t.PortfolioID = p.meta.ID
		t.Symbol = normaliseSymbol(t.Symbol)
		p.apply(t)
	}
	return p, nil
}

func (p *VirtualPortfolio) validateReplay(t Trade) (Trade, error) {
	if !(t.Quantity > 0) || !validPrice(t.Price) {
		return t, fmt.Errorf("invalid quantity or price")
	}
	switch t.Side {
	case SideBuy:
		if exceeds(t.Value()+t.Fee, p.cash) {
			return t, ErrInsufficientFunds
		}
	case SideSell:
		pos, ok := p.positions[normaliseSymbol(t.Symbol)]
		if !ok {
			return t, ErrNoPosition
		}
		if t.Quantity > pos.Quantity+quantityEpsilon {
			return t, ErrInsufficientQuantity
		}
		if t.RealizedProfit == nil {
			profit := t.Quantity * (t.Price - pos.AvgCost)
			t.RealizedProfit = &profit
		}
	default:
		return t, fmt.Errorf("unknown side %q", t.Side)
	}
	return t, nil
}

const (
	// Absolute slack for float noise in cost sums, independent of balance
	cashEpsilon = 1e-6

	// Relative slack so a price exactly at avg_cost*(1±pct/100) triggers
	thresholdTolerance = 1e-12
)

// exceeds reports whether cost is larger than available cash
func exceeds(cost, cash float64) bool {
	return cost-cash > cashEpsilon
}

func validPrice(price float64) bool {
	return price > 0 && !math.IsInf(price, 0)
}

func normaliseSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyPosition(pos *Position) Position {
	c := *pos
	c.StopLossPct = copyFloat(pos.StopLossPct)
	c.TakeProfitPct = copyFloat(pos.TakeProfitPct)
	return c
}

func cloneStrategy(cfg *StrategyConfig) *StrategyConfig {
	if cfg == nil {
		return nil
	}
	c := *cfg
	c.Parameters = make(map[string]float64, len(cfg.Parameters))
	for k, v := range cfg.Parameters {
		c.Parameters[k] = v
	}
	c.Symbols = append([]string(nil), cfg.Symbols...)
	c.Fitness = copyFloat(cfg.Fitness)
	return &c
}
