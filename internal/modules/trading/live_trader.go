// Package trading runs deployed strategies against live prices on their
// virtual portfolios.
package trading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/rs/zerolog"
)

// Config holds the live loop settings
type Config struct {
	// Symbols used by strategies that do not name their own
	Symbols        []string
	CandleInterval string
	CandleCount    int
	PriceTimeout   time.Duration
	// BuyCooldown blocks re-entering a symbol this soon after selling it; 0 disables
	BuyCooldown time.Duration
}

// Decision is one order placed by the live loop
type Decision struct {
	PortfolioID string           `json:"portfolio_id"`
	Symbol      string           `json:"symbol"`
	Signal      domain.Signal    `json:"signal"`
	Side        portfolio.Side   `json:"side"`
	Quantity    float64          `json:"quantity"`
	Price       float64          `json:"price"`
	TradeID     string           `json:"trade_id"`
	Reason      portfolio.Reason `json:"reason"`
}

// Result summarises one pass of the live loop
type Result struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Portfolios int           `json:"portfolios"`
	Evaluated  int           `json:"evaluated"`
	Skipped    int           `json:"skipped"`
	Orders     []Decision    `json:"orders"`
}

// LiveTrader evaluates every portfolio's active strategy on fresh prices
type LiveTrader struct {
	portfolios *portfolio.Service
	catalog    *strategies.Catalog
	prices     domain.PriceSource
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time

	pass   sync.Mutex
	mu     sync.RWMutex
	last   *Result
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLiveTrader creates the live strategy loop
func NewLiveTrader(
	portfolios *portfolio.Service,
	catalog *strategies.Catalog,
	prices domain.PriceSource,
	cfg Config,
	log zerolog.Logger,
) *LiveTrader {
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 250
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "1d"
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LiveTrader{
		portfolios: portfolios,
		catalog:    catalog,
		prices:     prices,
		cfg:        cfg,
		log:        log.With().Str("job", "live_trader").Logger(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name returns the job name
func (t *LiveTrader) Name() string {
	return "live_trader"
}

// Run executes one pass as a scheduled job
func (t *LiveTrader) Run() error {
	_, err := t.Evaluate(t.ctx)
	return err
}

// Close cancels future scheduled passes
func (t *LiveTrader) Close() {
	t.cancel()
}

// LastResult returns the most recent pass, nil before the first one
func (t *LiveTrader) LastResult() *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return nil
	}
	r := *t.last
	r.Orders = append([]Decision(nil), t.last.Orders...)
	return &r
}

// Evaluate runs every deployed strategy once. Failures skip the symbol.
func (t *LiveTrader) Evaluate(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.pass.Lock()
	defer t.pass.Unlock()

	result := &Result{StartedAt: t.now(), Orders: []Decision{}}
	for _, p := range t.portfolios.List() {
		cfg := p.Strategy()
		if cfg == nil {
			continue
		}
		strategy, err := t.catalog.Get(cfg.Strategy)
		if err != nil {
			t.log.Warn().Err(err).Str("portfolio_id", p.ID()).Msg("Deployed strategy not in catalog")
			continue
		}
		result.Portfolios++

		symbols := cfg.Symbols
		if len(symbols) == 0 {
			symbols = t.cfg.Symbols
		}
		for _, symbol := range symbols {
			if ctx.Err() != nil {
				break
			}
			decision, err := t.evaluateSymbol(ctx, p, strategy, strategies.Params(cfg.Parameters), symbol)
			if err != nil {
				t.log.Debug().Err(err).Str("portfolio_id", p.ID()).Str("symbol", symbol).Msg("Symbol skipped")
				result.Skipped++
				continue
			}
			result.Evaluated++
			if decision != nil {
				result.Orders = append(result.Orders, *decision)
			}
		}
	}
	result.Duration = time.Since(result.StartedAt)

	t.mu.Lock()
	t.last = result
	t.mu.Unlock()

	t.log.Info().
		Int("portfolios", result.Portfolios).
		Int("evaluated", result.Evaluated).
		Int("orders", len(result.Orders)).
		Int("skipped", result.Skipped).
		Msg("Live strategy pass completed")
	return result, nil
}

func (t *LiveTrader) evaluateSymbol(
	ctx context.Context,
	p *portfolio.VirtualPortfolio,
	strategy strategies.Strategy,
	params strategies.Params,
	symbol string,
) (*Decision, error) {
	if t.prices == nil {
		return nil, domain.ErrPriceUnavailable
	}
	candles, err := domain.FetchCandles(ctx, t.prices, symbol, t.cfg.CandleInterval, t.cfg.CandleCount, nil, t.cfg.PriceTimeout)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s has no candles", domain.ErrPriceUnavailable, symbol)
	}
	price, err := domain.FetchCurrentPrice(ctx, t.prices, symbol, t.cfg.PriceTimeout)
	if err != nil {
		return nil, err
	}

	pos, held := p.Position(symbol)
	signal := strategy.Decide(strategies.NewSnapshot(symbol, candles), strategies.PositionState{Quantity: pos.Quantity, AvgCost: pos.AvgCost}, params)

	var order portfolio.Order
	switch {
	case signal == domain.SignalBuy && !held:
		if err := t.checkBuyCooldown(p, symbol); err != nil {
			return nil, err
		}
		qty := math.Floor(p.Cash() * params.PositionSizeRatio() / price)
		if qty < 1 {
			return nil, nil
		}
		stopLoss, takeProfit := params.RiskPcts()
		order = portfolio.Order{
			Symbol:        symbol,
			Side:          portfolio.SideBuy,
			Quantity:      qty,
			Price:         price,
			Reason:        portfolio.ReasonSignal,
			StopLossPct:   stopLoss,
			TakeProfitPct: takeProfit,
		}
	case signal == domain.SignalSell && held:
		order = portfolio.Order{
			Symbol:   symbol,
			Side:     portfolio.SideSell,
			Quantity: pos.Quantity,
			Price:    price,
			Reason:   portfolio.ReasonSignal,
		}
	default:
		return nil, nil
	}

	trade, err := t.portfolios.Execute(p.ID(), order)
	if err != nil {
		return nil, err
	}

	t.log.Info().
		Str("portfolio_id", p.ID()).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Msg("Strategy order executed")

	return &Decision{
		PortfolioID: p.ID(),
		Symbol:      trade.Symbol,
		Signal:      signal,
		Side:        trade.Side,
		Quantity:    trade.Quantity,
		Price:       trade.Price,
		TradeID:     trade.ID,
		Reason:      trade.Reason,
	}, nil
}

// checkBuyCooldown rejects a buy when the symbol was sold within the cooldown
func (t *LiveTrader) checkBuyCooldown(p *portfolio.VirtualPortfolio, symbol string) error {
	if t.cfg.BuyCooldown <= 0 {
		return nil
	}
	trades := p.Trades()
	for i := len(trades) - 1; i >= 0; i-- {
		tr := trades[i]
		if !strings.EqualFold(tr.Symbol, strings.TrimSpace(symbol)) || tr.Side != portfolio.SideSell {
			continue
		}
		if t.now().Sub(tr.ExecutedAt) < t.cfg.BuyCooldown {
			return fmt.Errorf("cannot buy %s: cooldown active (sold %s ago)", symbol, t.now().Sub(tr.ExecutedAt).Round(time.Second))
		}
		return nil
	}
	return nil
}
