// Package risk runs the periodic stop-loss / take-profit gate over every
// open virtual position.
package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// Exit is one automatic sell issued by the gate
type Exit struct {
	PortfolioID  string           `json:"portfolio_id"`
	Symbol       string           `json:"symbol"`
	Reason       portfolio.Reason `json:"reason"`
	Quantity     float64          `json:"quantity"`
	Price        float64          `json:"price"`
	TriggerPrice float64          `json:"trigger_price"`
	TradeID      string           `json:"trade_id"`
}

// Result summarises one gate tick
type Result struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Checked   int           `json:"checked"`
	Skipped   int           `json:"skipped"`
	Exits     []Exit        `json:"exits"`
}

// Gate sells positions whose price crossed their stop-loss or take-profit.
// Ticks never overlap; a tick that started finishes all of its positions.
type Gate struct {
	portfolios   *portfolio.Service
	prices       domain.PriceSource
	priceTimeout time.Duration
	eventManager *events.Manager
	log          zerolog.Logger

	tick   sync.Mutex
	mu     sync.RWMutex
	last   *Result
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGate creates a risk gate
func NewGate(
	portfolios *portfolio.Service,
	prices domain.PriceSource,
	priceTimeout time.Duration,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Gate {
	if priceTimeout <= 0 {
		priceTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		portfolios:   portfolios,
		prices:       prices,
		priceTimeout: priceTimeout,
		eventManager: eventManager,
		log:          log.With().Str("job", "risk_gate").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Name returns the job name
func (g *Gate) Name() string {
	return "risk_gate"
}

// Run executes one tick as a scheduled job
func (g *Gate) Run() error {
	_, err := g.Check(g.ctx)
	return err
}

// Close cancels future scheduled ticks
func (g *Gate) Close() {
	g.cancel()
}

// LastResult returns the most recent tick, nil before the first one
func (g *Gate) LastResult() *Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.last == nil {
		return nil
	}
	r := *g.last
	r.Exits = append([]Exit(nil), g.last.Exits...)
	return &r
}

// Check inspects every open position once. A cancelled ctx prevents the tick
// from starting; once started, cancellation is ignored until it completes.
func (g *Gate) Check(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.tick.Lock()
	defer g.tick.Unlock()

	tickCtx := context.WithoutCancel(ctx)
	result := &Result{StartedAt: time.Now(), Exits: []Exit{}}
	prices := make(map[string]float64)
	unavailable := make(map[string]bool)

	for _, p := range g.portfolios.List() {
		for _, pos := range p.Positions() {
			result.Checked++
			if !pos.RiskParamsValid() {
				continue
			}

			price, cached := prices[pos.Symbol]
			if !cached && !unavailable[pos.Symbol] {
				var ok bool
				if price, ok = g.currentPrice(tickCtx, pos.Symbol); ok {
					prices[pos.Symbol] = price
				} else {
					unavailable[pos.Symbol] = true
				}
			}
			if unavailable[pos.Symbol] {
				result.Skipped++
				continue
			}

			trade, trigger, err := g.portfolios.EvaluateRisk(p.ID(), pos.Symbol, price)
			if err != nil {
				// Retried on the next tick
				g.log.Warn().
					Err(err).
					Str("portfolio_id", p.ID()).
					Str("symbol", pos.Symbol).
					Msg("Risk exit failed, skipping position this tick")
				result.Skipped++
				continue
			}
			if trade == nil {
				continue
			}

			exit := Exit{
				PortfolioID:  p.ID(),
				Symbol:       trade.Symbol,
				Reason:       trade.Reason,
				Quantity:     trade.Quantity,
				Price:        trade.Price,
				TriggerPrice: trigger,
				TradeID:      trade.ID,
			}
			result.Exits = append(result.Exits, exit)
			g.notify(exit, trade)
		}
	}

	sort.SliceStable(result.Exits, func(i, j int) bool {
		return result.Exits[i].PortfolioID < result.Exits[j].PortfolioID
	})
	result.Duration = time.Since(result.StartedAt)

	g.mu.Lock()
	g.last = result
	g.mu.Unlock()

	if len(result.Exits) > 0 || result.Skipped > 0 {
		g.log.Info().
			Int("checked", result.Checked).
			Int("exits", len(result.Exits)).
			Int("skipped", result.Skipped).
			Dur("duration", result.Duration).
			Msg("Risk gate tick completed")
	} else {
		g.log.Debug().Int("checked", result.Checked).Msg("Risk gate tick completed")
	}
	return result, nil
}

func (g *Gate) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	if g.prices == nil {
		return 0, false
	}
	price, err := domain.FetchCurrentPrice(ctx, g.prices, symbol, g.priceTimeout)
	if err != nil {
		g.log.Warn().Err(err).Str("symbol", symbol).Msg("Price unavailable, skipping risk check")
		return 0, false
	}
	return price, true
}

// notify reports an exit to the event sink; sink problems never reach the gate
func (g *Gate) notify(exit Exit, trade *portfolio.Trade) {
	g.log.Info().
		Str("portfolio_id", exit.PortfolioID).
		Str("symbol", exit.Symbol).
		Str("reason", string(exit.Reason)).
		Float64("price", exit.Price).
		Float64("trigger_price", exit.TriggerPrice).
		Msg("Risk exit executed")

	if g.eventManager == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("Notification sink failed")
		}
	}()

	realized := 0.0
	if trade.RealizedProfit != nil {
		realized = *trade.RealizedProfit
	}
	g.eventManager.EmitTyped("risk", &events.RiskExitData{
		PortfolioID:    exit.PortfolioID,
		Symbol:         exit.Symbol,
		Reason:         string(exit.Reason),
		Quantity:       exit.Quantity,
		Price:          exit.Price,
		TriggerPrice:   exit.TriggerPrice,
		RealizedProfit: realized,
	})
}
