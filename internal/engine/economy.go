// Economy ties together the markets of one simulation and steps them each round.
package engine

import (
	"context"
	"fmt"

	"github.com/talgya/bazaarbot/internal/market"
)

// Economy holds named markets, stepped in the order they were added.
type Economy struct {
	markets []*market.Market
	index   map[string]*market.Market
}

// NewEconomy creates an economy over the given markets.
func NewEconomy(markets ...*market.Market) (*Economy, error) {
	e := &Economy{index: make(map[string]*market.Market)}
	for _, m := range markets {
		if err := e.AddMarket(m); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddMarket registers m. Market names must be unique.
func (e *Economy) AddMarket(m *market.Market) error {
	if m == nil {
		return fmt.Errorf("add market: nil market")
	}
	if _, ok := e.index[m.Name()]; ok {
		return fmt.Errorf("add market: duplicate market %q", m.Name())
	}
	e.markets = append(e.markets, m)
	e.index[m.Name()] = m
	return nil
}

// Market returns the market called name.
func (e *Economy) Market(name string) (*market.Market, bool) {
	m, ok := e.index[name]
	return m, ok
}

// Markets returns every market in insertion order.
func (e *Economy) Markets() []*market.Market {
	return append([]*market.Market(nil), e.markets...)
}

// Step runs one round in every market.
func (e *Economy) Step() error {
	for _, m := range e.markets {
		if err := m.Step(); err != nil {
			return fmt.Errorf("market %s round %d: %w", m.Name(), m.Round(), err)
		}
	}
	return nil
}

// Simulate runs rounds rounds in every market, stopping early if ctx is
// cancelled between rounds.
func (e *Economy) Simulate(ctx context.Context, rounds int) error {
	if rounds <= 0 {
		return nil
	}
	eng := NewEngine()
	eng.OnRound = func(uint64) error { return e.Step() }
	return eng.Run(ctx, rounds)
}
