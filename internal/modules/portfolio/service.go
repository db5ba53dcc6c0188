package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/evotrader/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the service needs; *Repository implements it
type Store interface {
	TradeRecorder
	CreatePortfolio(meta Meta, strategy *StrategyConfig) error
	UpdateStrategy(id string, strategy *StrategyConfig) error
	ListPortfolios() ([]StoredPortfolio, error)
	TradesByPortfolio(id string) ([]Trade, error)
	DeletePortfolio(id string) error
}

var _ Store = (*Repository)(nil)

// Service owns the set of live virtual portfolios
type Service struct {
	mu           sync.RWMutex
	portfolios   map[string]*VirtualPortfolio
	store        Store
	eventManager *events.Manager
	feeRate      float64
	log          zerolog.Logger
}

// NewService creates a portfolio service. store may be nil for a purely
// in-memory service.
func NewService(store Store, eventManager *events.Manager, feeRate float64, log zerolog.Logger) *Service {
	return &Service{
		portfolios:   make(map[string]*VirtualPortfolio),
		store:        store,
		eventManager: eventManager,
		feeRate:      feeRate,
		log:          log.With().Str("service", "portfolio").Logger(),
	}
}

// Load rebuilds every stored portfolio by replaying its ledger
func (s *Service) Load() error {
	if s.store == nil {
		return nil
	}

	stored, err := s.store.ListPortfolios()
	if err != nil {
		return fmt.Errorf("failed to list portfolios: %w", err)
	}

	loaded := make(map[string]*VirtualPortfolio, len(stored))
	for _, sp := range stored {
		trades, err := s.store.TradesByPortfolio(sp.ID)
		if err != nil {
			return fmt.Errorf("failed to load trades for %s: %w", sp.ID, err)
		}
		p, err := ReplayLedger(sp.Meta, trades, WithRecorder(s.store), WithStrategy(sp.Strategy))
		if err != nil {
			return fmt.Errorf("failed to replay portfolio %s: %w", sp.ID, err)
		}
		loaded[sp.ID] = p

		s.log.Info().
			Str("portfolio_id", sp.ID).
			Int("trades", len(trades)).
			Float64("cash", p.Cash()).
			Int("positions", len(p.Positions())).
			Msg("Portfolio restored from ledger")
	}

	s.mu.Lock()
	s.portfolios = loaded
	s.mu.Unlock()
	return nil
}

// Create makes a new portfolio with the service's fee rate
func (s *Service) Create(name string, initialCapital float64, strategy *StrategyConfig) (*VirtualPortfolio, error) {
	meta := Meta{
		ID:             uuid.NewString(),
		Name:           name,
		InitialCapital: initialCapital,
		FeeRate:        s.feeRate,
		CreatedAt:      time.Now(),
	}
	if meta.Name == "" {
		meta.Name = "portfolio-" + meta.ID[:8]
	}

	opts := []Option{WithStrategy(strategy)}
	if s.store != nil {
		opts = append(opts, WithRecorder(s.store))
	}
	p, err := New(meta, opts...)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.CreatePortfolio(p.Meta(), strategy); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.portfolios[p.ID()] = p
	s.mu.Unlock()

	s.emit(&events.PortfolioLifecycleData{
		PortfolioID:    p.ID(),
		Name:           meta.Name,
		InitialCapital: initialCapital,
	})
	return p, nil
}

// Get returns a portfolio by id
func (s *Service) Get(id string) (*VirtualPortfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	return p, nil
}

// List returns all portfolios, oldest first
func (s *Service) List() []*VirtualPortfolio {
	s.mu.RLock()
	out := make([]*VirtualPortfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].Meta(), out[j].Meta()
		if !mi.CreatedAt.Equal(mj.CreatedAt) {
			return mi.CreatedAt.Before(mj.CreatedAt)
		}
		return mi.ID < mj.ID
	})
	return out
}

// Delete removes a portfolio. It is refused while positions are open.
func (s *Service) Delete(id string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}

	// Hold the portfolio lock so no buy can slip in between the check and removal
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.positions) > 0 {
		return fmt.Errorf("%w: %s holds %d positions", ErrOpenPositions, id, len(p.positions))
	}
	if s.store != nil {
		if err := s.store.DeletePortfolio(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.portfolios, id)
	s.mu.Unlock()

	s.emit(&events.PortfolioLifecycleData{
		PortfolioID:    id,
		Name:           p.meta.Name,
		InitialCapital: p.meta.InitialCapital,
		Deleted:        true,
	})
	return nil
}

// SetStrategy persists and activates a strategy configuration
func (s *Service) SetStrategy(id string, cfg *StrategyConfig) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.UpdateStrategy(id, cfg); err != nil {
			return err
		}
	}
	p.SetStrategy(cfg)
	return nil
}

// Buy executes a manual buy
func (s *Service) Buy(id, symbol string, quantity, price float64, stopLossPct, takeProfitPct *float64) (*Trade, error) {
	return s.Execute(id, Order{
		Symbol:        symbol,
		Side:          SideBuy,
		Quantity:      quantity,
		Price:         price,
		Reason:        ReasonManual,
		StopLossPct:   stopLossPct,
		TakeProfitPct: takeProfitPct,
	})
}

// Sell executes a sell with the given reason
func (s *Service) Sell(id, symbol string, quantity, price float64, reason Reason) (*Trade, error) {
	return s.Execute(id, Order{
		Symbol:   symbol,
		Side:     SideSell,
		Quantity: quantity,
		Price:    price,
		Reason:   reason,
	})
}

// Execute runs an order against a portfolio and announces the trade
func (s *Service) Execute(id string, order Order) (*Trade, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	trade, err := p.Execute(order)
	if err != nil {
		return nil, err
	}
	s.announce(trade)
	return trade, nil
}

// EvaluateRisk applies stop-loss / take-profit for one position at price.
// A nil trade means nothing triggered.
func (s *Service) EvaluateRisk(id, symbol string, price float64) (*Trade, float64, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, 0, err
	}

	trade, trigger, err := p.EvaluateRisk(symbol, price, time.Time{})
	if err != nil || trade == nil {
		return nil, 0, err
	}
	s.announce(trade)
	return trade, trigger, nil
}

// Metrics computes performance metrics for a portfolio
func (s *Service) Metrics(id string, prices map[string]float64) (PerformanceMetrics, error) {
	p, err := s.Get(id)
	if err != nil {
		return PerformanceMetrics{}, err
	}
	return p.ComputeMetrics(prices)
}

func (s *Service) announce(t *Trade) {
	s.log.Info().
		Str("portfolio_id", t.PortfolioID).
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Float64("quantity", t.Quantity).
		Float64("price", t.Price).
		Str("reason", string(t.Reason)).
		Msg("Trade executed")

	s.emit(&events.TradeExecutedData{
		PortfolioID:    t.PortfolioID,
		TradeID:        t.ID,
		Symbol:         t.Symbol,
		Side:           string(t.Side),
		Quantity:       t.Quantity,
		Price:          t.Price,
		Fee:            t.Fee,
		Reason:         string(t.Reason),
		RealizedProfit: t.RealizedProfit,
	})
}

func (s *Service) emit(data events.EventData) {
	if s.eventManager != nil {
		s.eventManager.EmitTyped("portfolio", data)
	}
}
