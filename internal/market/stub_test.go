package market

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talgya/bazaarbot/internal/economy"
)

var (
	wood  = economy.MustCommodity("wood", 1.0)
	crops = economy.MustCommodity("crops", 1.0)
)

// stubTrader is a scripted Trader: offers and behavior are closures.
type stubTrader struct {
	id, class string
	money     float64
	start     float64
	inv       *economy.Inventory

	behave func(s *stubTrader, m *Market)
	offers func(s *stubTrader, m *Market, c economy.Commodity)

	observed map[string][]float64 // successful prices per commodity
	rejected int
	released float64
}

func newStub(t *testing.T, id, class string, money float64, held map[economy.Commodity]float64) *stubTrader {
	t.Helper()
	inv, err := economy.NewInventory(economy.InventoryData{MaxSize: 100, Start: held, StartCost: 1})
	require.NoError(t, err)
	return &stubTrader{id: id, class: class, money: money, start: money, inv: inv, observed: map[string][]float64{}}
}

func (s *stubTrader) ID() string        { return s.id }
func (s *stubTrader) ClassName() string { return s.class }

func (s *stubTrader) Simulate(m *Market) {
	s.start = s.money
	if s.behave != nil {
		s.behave(s, m)
	}
}

func (s *stubTrader) GenerateOffers(m *Market, c economy.Commodity) {
	if s.offers != nil {
		s.offers(s, m, c)
	}
}

func (s *stubTrader) UpdatePriceModel(side Side, c economy.Commodity, success bool, unitPrice float64) {
	if !success {
		s.rejected++
		return
	}
	s.observed[c.Name] = append(s.observed[c.Name], unitPrice)
}

func (s *stubTrader) ReleaseExpected(c economy.Commodity, units float64) { s.released += units }

func (s *stubTrader) ChangeInventory(c economy.Commodity, amount, unitCost float64) {
	if !s.inv.Holds(c) {
		s.inv.Add(c, 0, 0)
	}
	s.inv.Change(c, amount, unitCost)
}

func (s *stubTrader) Money() float64           { return s.money }
func (s *stubTrader) SetMoney(v float64)       { s.money = v }
func (s *stubTrader) LastRoundProfit() float64 { return s.money - s.start }

func (s *stubTrader) Snapshot() AgentSnapshot {
	return AgentSnapshot{ID: s.id, ClassName: s.class, Money: s.money, Capacity: s.inv.Capacity(), Inventory: s.inv.Lots()}
}

// asking returns an offers closure that asks units@price of good every round.
func asking(good economy.Commodity, units, price float64) func(*stubTrader, *Market, economy.Commodity) {
	return func(s *stubTrader, m *Market, c economy.Commodity) {
		if c.Is(good) {
			m.Ask(NewOffer(s, c, units, price))
		}
	}
}

// bidding returns an offers closure that bids units@price for good every round.
func bidding(good economy.Commodity, units, price float64) func(*stubTrader, *Market, economy.Commodity) {
	return func(s *stubTrader, m *Market, c economy.Commodity) {
		if c.Is(good) {
			m.Bid(NewOffer(s, c, units, price))
		}
	}
}

func newTestMarket(t *testing.T, agents []Trader, handler BankruptcyHandler) *Market {
	t.Helper()
	resolver, err := NewDefaultResolver(rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	m, err := New("test", Data{Goods: []economy.Commodity{wood, crops}, Agents: agents}, Config{
		Resolver:   resolver,
		Executor:   NewDefaultExecutor(),
		Bankruptcy: handler,
	})
	require.NoError(t, err)
	return m
}
