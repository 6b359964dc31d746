// Package archetype provides example agent behaviors (farmers and
// woodcutters that cross-trade crops and wood), the factory that spawns them
// and the bankruptcy handler that replaces failed agents.
package archetype

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"

	"github.com/talgya/bazaarbot/internal/agents"
	"github.com/talgya/bazaarbot/internal/economy"
	"github.com/talgya/bazaarbot/internal/market"
)

// Goods traded by the example archetypes.
var (
	Crops = economy.MustCommodity("crops", 1.0)
	Wood  = economy.MustCommodity("wood", 2.0)
)

// Goods returns the commodities the archetypes trade, in market order.
func Goods() []economy.Commodity { return []economy.Commodity{Crops, Wood} }

const (
	FarmerClass     = "farmer"
	WoodcutterClass = "woodcutter"

	idleCost = 2.0 // Cash an agent burns in a round it cannot work
)

// Toolkit holds the shared random source behaviors draw from.
type Toolkit struct {
	rng     *rand.Rand
	weather *Weather // nil for fair weather
}

// Produce sets the held amount of c to amount with probability chance,
// scaled by the weather. A harvest replaces the stock, it never piles up.
func (k *Toolkit) Produce(a *agents.Agent, m *market.Market, c economy.Commodity, amount, chance float64) {
	chance *= k.weather.Yield(m.Round(), c)
	if chance >= 1.0 || k.rng.Float64() < chance {
		a.AddInventoryItem(c, amount)
	}
}

// Consume uses up amount of c with probability chance.
func (k *Toolkit) Consume(a *agents.Agent, c economy.Commodity, amount, chance float64) {
	if chance >= 1.0 || k.rng.Float64() < chance {
		a.ConsumeInventoryItem(c, -amount)
	}
}

// Idle charges an agent that could not work this round, never below zero cash.
func Idle(a *agents.Agent) {
	a.SetMoney(max(a.Money()-idleCost, 0.0))
}

// Farmer burns one wood to bring its crops up to six while short of food.
func (k *Toolkit) Farmer(a *agents.Agent, m *market.Market) {
	food := a.QueryInventory(Crops)
	wood := a.QueryInventory(Wood)

	if food >= 10 {
		return
	}
	if wood >= 1 {
		k.Consume(a, Wood, 1, 1.0)
		k.Produce(a, m, Crops, 6, 1.0)
		return
	}
	Idle(a)
}

// Woodcutter eats one crop to bring its wood up to four while short of wood.
func (k *Toolkit) Woodcutter(a *agents.Agent, m *market.Market) {
	food := a.QueryInventory(Crops)
	wood := a.QueryInventory(Wood)

	if wood >= 4 {
		return
	}
	if food >= 1 {
		k.Consume(a, Crops, 1, 1.0)
		k.Produce(a, m, Wood, 4, 1.0)
		return
	}
	Idle(a)
}

// Factory creates archetype agents. Agent IDs are drawn from the shared
// random source so equal seeds give equal populations.
type Factory struct {
	rng      *rand.Rand
	kit      *Toolkit
	money    float64
	capacity float64
	price    float64
}

// FactoryConfig sets what every new agent starts with.
type FactoryConfig struct {
	Money     float64 // Starting cash
	Capacity  float64 // Inventory capacity
	StartCost float64 // Cost basis of starting goods
	Weather   *Weather
}

// NewFactory creates a factory drawing from rng.
func NewFactory(rng *rand.Rand, cfg FactoryConfig) *Factory {
	return &Factory{
		rng:      rng,
		kit:      &Toolkit{rng: rng, weather: cfg.Weather},
		money:    cfg.Money,
		capacity: cfg.Capacity,
		price:    cfg.StartCost,
	}
}

// Behavior returns the behavior of class.
func (f *Factory) Behavior(class string) (agents.Behavior, bool) {
	switch class {
	case FarmerClass:
		return f.kit.Farmer, true
	case WoodcutterClass:
		return f.kit.Woodcutter, true
	default:
		return nil, false
	}
}

func (f *Factory) inventory(class string) economy.InventoryData {
	data := economy.InventoryData{MaxSize: f.capacity, StartCost: f.price}
	switch class {
	case FarmerClass:
		data.Ideal = map[economy.Commodity]float64{Crops: 0, Wood: 3}
		data.Start = map[economy.Commodity]float64{Crops: 1, Wood: 0}
	case WoodcutterClass:
		data.Ideal = map[economy.Commodity]float64{Crops: 3, Wood: 0}
		data.Start = map[economy.Commodity]float64{Crops: 0, Wood: 1}
	}
	return data
}

// Create spawns a fresh agent of class.
func (f *Factory) Create(class string) (*agents.Agent, error) {
	behavior, ok := f.Behavior(class)
	if !ok {
		return nil, fmt.Errorf("unknown agent class %q", class)
	}
	id, err := uuid.NewRandomFromReader(f.rng)
	if err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	return agents.New(id.String(), class, behavior, f.inventory(class), f.money)
}

// Restore rebuilds a stored agent with its class behavior.
func (f *Factory) Restore(s market.AgentSnapshot) (*agents.Agent, error) {
	behavior, ok := f.Behavior(s.ClassName)
	if !ok {
		return nil, fmt.Errorf("restore agent %s: unknown agent class %q", s.ID, s.ClassName)
	}
	return agents.FromSnapshot(s, behavior)
}

// Population spawns farmers then woodcutters.
func (f *Factory) Population(farmers, woodcutters int) ([]market.Trader, error) {
	out := make([]market.Trader, 0, farmers+woodcutters)
	for _, batch := range []struct {
		class string
		n     int
	}{{FarmerClass, farmers}, {WoodcutterClass, woodcutters}} {
		for i := 0; i < batch.n; i++ {
			a, err := f.Create(batch.class)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// Replacer swaps a bankrupt agent for a new agent of the class that has been
// most profitable lately.
type Replacer struct {
	Factory  *Factory
	Window   int    // Rounds of profit history compared
	Fallback string // Class used when no class has profit history
}

// NewReplacer returns a replacer comparing the last 10 rounds, falling back to farmers.
func NewReplacer(f *Factory) *Replacer {
	return &Replacer{Factory: f, Window: 10, Fallback: FarmerClass}
}

// SignalBankrupt implements market.BankruptcyHandler.
func (r *Replacer) SignalBankrupt(m *market.Market, agent market.Trader) {
	class := m.MostProfitableAgentClass(r.Window)
	if class == "" {
		class = r.Fallback
	}
	fresh, err := r.Factory.Create(class)
	if err != nil {
		slog.Error("replace bankrupt agent", "agent", agent.ID(), "class", class, "error", err)
		return
	}
	if !m.ReplaceAgent(agent, fresh) {
		slog.Warn("bankrupt agent not in market", "agent", agent.ID(), "market", m.Name())
		return
	}
	slog.Debug("agent replaced",
		"market", m.Name(),
		"round", m.Round(),
		"old", agent.ID(),
		"old_class", agent.ClassName(),
		"new", fresh.ID(),
		"new_class", class,
	)
}
