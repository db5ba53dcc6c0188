// Package strategies provides the catalog of pluggable signal generators used
// by both the backtester and live virtual trading.
package strategies

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/evotrader/internal/domain"
)

// PositionState is what a strategy may know about the current holding
type PositionState struct {
	Quantity float64
	AvgCost  float64
}

// Held reports whether a position is open
func (p PositionState) Held() bool {
	return p.Quantity > 0
}

// Strategy turns a market snapshot into a trading decision.
// Decide must not fail: missing or insufficient data yields SignalHold.
type Strategy interface {
	Name() string
	Description() string
	// Schema lists tunable parameters including the common risk parameters
	Schema() Schema
	Decide(snapshot *MarketSnapshot, position PositionState, params Params) domain.Signal
}

// Catalog is a registry of strategies by name
type Catalog struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{strategies: make(map[string]Strategy)}
}

// Default returns a catalog holding every built-in strategy
func Default() *Catalog {
	c := NewCatalog()
	for _, s := range []Strategy{
		&Momentum{},
		&MeanReversion{},
		&Breakout{},
		&IndicatorThreshold{},
		&MACDCross{},
		&Contrarian{},
		&Value{},
	} {
		c.MustRegister(s)
	}
	return c
}

// MustRegister is Register for built-ins; a duplicate name panics
func (c *Catalog) MustRegister(s Strategy) {
	if err := c.Register(s); err != nil {
		panic(err)
	}
}

// Register adds a strategy; names must be unique
func (c *Catalog) Register(s Strategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	c.strategies[s.Name()] = s
	return nil
}

// Get looks up a strategy by name
func (c *Catalog) Get(name string) (Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return s, nil
}

// Names returns registered names sorted alphabetically
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.strategies))
	for name := range c.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
