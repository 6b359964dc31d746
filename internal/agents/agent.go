// Package agents provides the default trading agent: it owns an inventory and
// a cash balance, forms price expectations from what it has traded at, and
// stages one bid or ask per commodity each round.
package agents

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/bazaarbot/internal/economy"
	"github.com/talgya/bazaarbot/internal/market"
)

const (
	AskPriceInflation = 1.02 // Markup over cost basis for bids and asks
	DefaultLookback   = 15   // Rounds of market price history averaged
	ObserveWindow     = 10   // Own observations used for the trading range
)

// Behavior runs an agent's production and consumption for one round. It may
// read the market and mutate only its own agent.
type Behavior func(a *Agent, m *market.Market)

// Agent is the default trading agent.
type Agent struct {
	id        string
	className string
	behavior  Behavior

	money          float64 // May go negative until the solvency check
	moneySpent     float64 // Cost consumed since the last production
	moneyLastRound float64 // Cash at the start of the current round

	inventory *economy.Inventory
	pricing   []*PricingHistory // one tracker per commodity, in first-seen order
}

// New builds an agent. className groups agents of the same archetype for
// profit statistics.
func New(id, className string, behavior Behavior, data economy.InventoryData, money float64) (*Agent, error) {
	if id == "" || className == "" {
		return nil, errors.New("agents: agent needs an id and a class name")
	}
	inv, err := economy.NewInventory(data)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	a := &Agent{
		id:             id,
		className:      className,
		behavior:       behavior,
		money:          money,
		moneyLastRound: money,
		inventory:      inv,
	}
	for _, c := range inv.Commodities() {
		a.track(c, data.StartCost)
	}
	return a, nil
}

// FromSnapshot rebuilds an agent from a stored snapshot.
func FromSnapshot(s market.AgentSnapshot, behavior Behavior) (*Agent, error) {
	inv, err := economy.FromLots(s.Capacity, s.Inventory)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", s.ID, err)
	}
	a := &Agent{
		id:             s.ID,
		className:      s.ClassName,
		behavior:       behavior,
		money:          s.Money,
		moneyLastRound: s.Money,
		inventory:      inv,
	}
	for _, l := range s.Inventory {
		a.track(l.Commodity, l.UnitCost)
	}
	return a, nil
}

// track registers a price tracker for c, seeded with price when positive.
func (a *Agent) track(c economy.Commodity, price float64) *PricingHistory {
	if p := a.tracker(c); p != nil {
		return p
	}
	var p *PricingHistory
	if price > 0 {
		p = NewPricingHistory(c, price)
	} else {
		p = NewPricingHistory(c)
	}
	a.pricing = append(a.pricing, p)
	return p
}

func (a *Agent) tracker(c economy.Commodity) *PricingHistory {
	for _, p := range a.pricing {
		if p.Commodity().Is(c) {
			return p
		}
	}
	return nil
}

func (a *Agent) ID() string        { return a.id }
func (a *Agent) ClassName() string { return a.className }
func (a *Agent) String() string    { return a.className + "/" + a.id }

// Inventory exposes the agent's ledger to its behavior.
func (a *Agent) Inventory() *economy.Inventory { return a.inventory }

func (a *Agent) Money() float64     { return a.money }
func (a *Agent) SetMoney(v float64) { a.money = v }

// LastRoundProfit returns the cash gained since the current round began.
func (a *Agent) LastRoundProfit() float64 { return a.money - a.moneyLastRound }

// IsInventoryFull reports whether no storage space is left.
func (a *Agent) IsInventoryFull() bool { return a.inventory.EmptySpace() <= 0 }

// Simulate runs the agent's behavior for one round.
func (a *Agent) Simulate(m *market.Market) {
	a.moneyLastRound = a.money
	if a.behavior != nil {
		a.behavior(a, m)
	}
}

// ObserveTradingRange returns the range of c's last window observed prices.
func (a *Agent) ObserveTradingRange(c economy.Commodity, window int) (PricingRange, bool) {
	p := a.tracker(c)
	if p == nil {
		return PricingRange{}, false
	}
	return p.Observe(window), true
}

func (a *Agent) favorability(c economy.Commodity, window int, averagePrice float64) float64 {
	r, ok := a.ObserveTradingRange(c, window)
	if !ok {
		return 1.0
	}
	return r.PositionInRange(averagePrice, true)
}

// targetQuantity scales base by favorability, rounding half to even, and
// never asks for less than one unit while base is positive.
func targetQuantity(favorability, base float64) float64 {
	q := math.RoundToEven(favorability * base)
	if q < 1 && base > 0 {
		q = 1.0
	}
	return q
}

// DetermineSaleQuantity returns how many units of surplus c to offer.
func (a *Agent) DetermineSaleQuantity(window int, averagePrice float64, c economy.Commodity) float64 {
	if averagePrice <= 0 {
		return 0.0
	}
	return targetQuantity(a.favorability(c, window, averagePrice), a.inventory.Surplus(c))
}

// DeterminePurchaseQuantity returns how many units of c to bid for.
func (a *Agent) DeterminePurchaseQuantity(window int, averagePrice float64, c economy.Commodity) float64 {
	if averagePrice <= 0 {
		return 0.0
	}
	return targetQuantity(a.favorability(c, window, averagePrice), a.inventory.Shortage(c))
}

// anchor returns cost marked up for quoting, falling back to the market's
// average price when the agent has no cost basis yet.
func anchor(m *market.Market, c economy.Commodity, cost float64) float64 {
	if cost <= 0 {
		cost = m.AverageHistoricalPrice(c, DefaultLookback)
	}
	return cost * AskPriceInflation
}

// CreateBid builds a bid for at least limit units of c, or nil when there is nothing to buy.
func (a *Agent) CreateBid(m *market.Market, c economy.Commodity, limit float64) *market.Offer {
	ideal := a.DeterminePurchaseQuantity(ObserveWindow, m.AverageHistoricalPrice(c, DefaultLookback), c)
	quantity := max(ideal, limit)
	return market.NewOffer(a, c, quantity, anchor(m, c, a.inventory.QueryCost(c)))
}

// CreateAsk builds an ask for at least limit units of c, or nil when there is nothing to sell.
func (a *Agent) CreateAsk(m *market.Market, c economy.Commodity, limit float64) *market.Offer {
	ideal := a.DetermineSaleQuantity(ObserveWindow, m.AverageHistoricalPrice(c, DefaultLookback), c)
	quantity := max(ideal, limit)
	return market.NewOffer(a, c, quantity, anchor(m, c, a.inventory.QueryUnitCost(c)))
}

// GenerateOffers asks when holding at least one unit of surplus c, and
// otherwise bids for the shortage, bounded by free space.
func (a *Agent) GenerateOffers(m *market.Market, c economy.Commodity) {
	if a.inventory.Surplus(c) >= 1 {
		m.Ask(a.CreateAsk(m, c, 1))
		return
	}

	shortage := a.inventory.Shortage(c)
	space := a.inventory.EmptySpace()
	limit := space
	if shortage > 0 {
		limit = min(shortage, space)
	}

	bid := a.CreateBid(m, c, limit)
	if bid == nil {
		return
	}
	a.inventory.ChangeExpecting(c, bid.Units, bid.UnitPrice)
	m.Bid(bid)
}

// UpdatePriceModel records the price of a successful trade. Rejections are
// not price points.
func (a *Agent) UpdatePriceModel(side market.Side, c economy.Commodity, success bool, unitPrice float64) {
	if !success {
		return
	}
	if p := a.tracker(c); p != nil {
		p.Add(unitPrice)
		return
	}
	a.track(c, unitPrice)
}

// ReleaseExpected drops units of c from the expected ledger.
func (a *Agent) ReleaseExpected(c economy.Commodity, units float64) {
	a.inventory.ChangeExpecting(c, -units, 0.0)
}

// AddInventoryItem sets the held amount of c, costing it at the money spent
// since the last production.
func (a *Agent) AddInventoryItem(c economy.Commodity, amount float64) {
	if amount <= 0 {
		return
	}
	a.track(c, 0)
	a.inventory.Add(c, amount, max(a.moneySpent, 1.0)/amount)
}

// ProduceInventory adds delta units of c whose cost basis is the money spent
// since the last production (at least 1).
func (a *Agent) ProduceInventory(c economy.Commodity, delta float64) {
	if delta <= 0 {
		return
	}
	if !a.inventory.Holds(c) {
		a.inventory.Add(c, 0, 0)
	}
	a.track(c, 0)
	a.moneySpent = max(a.moneySpent, 1.0)
	a.inventory.Change(c, delta, a.moneySpent/delta)
	a.moneySpent = 0.0
}

// ConsumeInventoryItem changes c by amount (negative to consume), charging
// consumed goods at their cost basis. economy.Money adjusts cash.
func (a *Agent) ConsumeInventoryItem(c economy.Commodity, amount float64) {
	if c.Is(economy.Money) {
		a.money += amount
		if amount < 0 {
			a.moneySpent += -amount
		}
		return
	}
	price := a.inventory.Change(c, amount, 0.0)
	if amount < 0 {
		a.moneySpent += -amount * price
	}
}

// ChangeInventory moves goods in or out at unitCost. economy.Money adjusts cash.
func (a *Agent) ChangeInventory(c economy.Commodity, amount, unitCost float64) {
	if c.Is(economy.Money) {
		a.money += amount
		return
	}
	if amount > 0 && !a.inventory.Holds(c) {
		// First delivery of a good the agent never held.
		a.inventory.Add(c, 0, 0)
	}
	a.inventory.Change(c, amount, unitCost)
}

// QueryInventory returns the held amount of c.
func (a *Agent) QueryInventory(c economy.Commodity) float64 {
	return a.inventory.QueryAmount(c)
}

// Snapshot copies the agent's state.
func (a *Agent) Snapshot() market.AgentSnapshot {
	return market.AgentSnapshot{
		ID:        a.id,
		ClassName: a.className,
		Money:     a.money,
		Capacity:  a.inventory.Capacity(),
		Inventory: a.inventory.Lots(),
	}
}
