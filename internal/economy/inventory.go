// Per-agent inventory ledger of held and in-transit goods.
// Costs are tracked as a weighted average per good.
package economy

import (
	"fmt"
	"sort"
)

// InventoryEntry is one lot: a quantity and its averaged unit acquisition cost.
type InventoryEntry struct {
	Amount   float64 `json:"amount"`
	UnitCost float64 `json:"unit_cost"`
}

// InventoryData is the declarative starting table an agent is built from.
type InventoryData struct {
	MaxSize   float64               // Storage capacity in space units
	Ideal     map[Commodity]float64 // Target quantity per good
	Start     map[Commodity]float64 // Starting on-hand quantity per good
	StartCost float64               // Unit cost basis of the starting lots
}

// Lot is the serializable view of one commodity's ledger state.
type Lot struct {
	Commodity    Commodity `json:"commodity"`
	Amount       float64   `json:"amount"`
	UnitCost     float64   `json:"unit_cost"`
	Expecting    float64   `json:"expecting"`
	ExpectedCost float64   `json:"expected_cost"`
	Ideal        float64   `json:"ideal"`
}

// Inventory tracks on-hand goods, goods expected from pending buys, and the
// ideal quantity per good. Capacity is a soft limit: Add and Change accept
// amounts that overflow it, callers check EmptySpace.
type Inventory struct {
	capacity float64

	goods map[string]Commodity // every commodity the ledger has seen
	order []string             // stable iteration order for space sums

	stuff     map[string]InventoryEntry // on hand
	expecting map[string]InventoryEntry // in transit from pending buys
	ideal     map[string]float64
}

func newInventory(capacity float64) *Inventory {
	return &Inventory{
		capacity:  capacity,
		goods:     make(map[string]Commodity),
		stuff:     make(map[string]InventoryEntry),
		expecting: make(map[string]InventoryEntry),
		ideal:     make(map[string]float64),
	}
}

// NewInventory builds an inventory from a starting table. Malformed tables
// are setup bugs and fail fast.
func NewInventory(data InventoryData) (*Inventory, error) {
	if data.MaxSize < 0 {
		return nil, fmt.Errorf("negative capacity %v: %w", data.MaxSize, ErrInvalidInventoryData)
	}
	if data.StartCost < 0 {
		return nil, fmt.Errorf("negative start cost %v: %w", data.StartCost, ErrInvalidInventoryData)
	}

	inv := newInventory(data.MaxSize)
	for _, c := range sortedKeys(data.Start) {
		amount := data.Start[c]
		if c.IsNil() {
			return nil, fmt.Errorf("start table: %w", ErrNilCommodity)
		}
		if amount < 0 {
			return nil, fmt.Errorf("start %s = %v: %w", c, amount, ErrInvalidInventoryData)
		}
		inv.track(c)
		inv.stuff[c.Name] = InventoryEntry{Amount: amount, UnitCost: data.StartCost}
	}
	for _, c := range sortedKeys(data.Ideal) {
		amount := data.Ideal[c]
		if c.IsNil() {
			return nil, fmt.Errorf("ideal table: %w", ErrNilCommodity)
		}
		if amount < 0 {
			return nil, fmt.Errorf("ideal %s = %v: %w", c, amount, ErrInvalidInventoryData)
		}
		inv.track(c)
		inv.ideal[c.Name] = amount
	}
	return inv, nil
}

func sortedKeys(m map[Commodity]float64) []Commodity {
	keys := make([]Commodity, 0, len(m))
	for c := range m {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys
}

func (inv *Inventory) track(c Commodity) {
	if _, ok := inv.goods[c.Name]; !ok {
		inv.order = append(inv.order, c.Name)
	}
	inv.goods[c.Name] = c
}

// Capacity returns the storage capacity.
func (inv *Inventory) Capacity() float64 { return inv.capacity }

// Commodities returns every good the ledger knows, in registration order.
func (inv *Inventory) Commodities() []Commodity {
	out := make([]Commodity, 0, len(inv.order))
	for _, name := range inv.order {
		out = append(out, inv.goods[name])
	}
	return out
}

// QueryAmount returns the on-hand quantity of c, 0 if unknown.
func (inv *Inventory) QueryAmount(c Commodity) float64 {
	return inv.stuff[c.Name].Amount
}

// QueryUnitCost returns the on-hand cost basis of c, 0 if unknown.
func (inv *Inventory) QueryUnitCost(c Commodity) float64 {
	return inv.stuff[c.Name].UnitCost
}

// QueryExpecting returns the quantity of c expected from pending buys.
func (inv *Inventory) QueryExpecting(c Commodity) float64 {
	return inv.expecting[c.Name].Amount
}

// QueryCost returns the cost basis of the expected lot of c. It anchors bid prices.
func (inv *Inventory) QueryCost(c Commodity) float64 {
	return inv.expecting[c.Name].UnitCost
}

// Ideal returns the target quantity of c.
func (inv *Inventory) Ideal(c Commodity) float64 {
	return inv.ideal[c.Name]
}

// Holds reports whether c has an on-hand entry (possibly empty).
func (inv *Inventory) Holds(c Commodity) bool {
	_, ok := inv.stuff[c.Name]
	return ok
}

// Add sets the on-hand lot of c. Negative amounts and nil commodities are ignored.
func (inv *Inventory) Add(c Commodity, amount, unitCost float64) {
	if amount < 0 || c.IsNil() {
		return
	}
	inv.track(c)
	inv.stuff[c.Name] = InventoryEntry{Amount: amount, UnitCost: unitCost}
}

// Change adjusts the on-hand lot of c by amount and returns the resulting
// unit cost. A positive unitCost re-averages the cost basis by amount; a
// non-positive one (consumption, sale) leaves it unchanged. Unknown goods
// are a no-op returning 0.
func (inv *Inventory) Change(c Commodity, amount, unitCost float64) float64 {
	current, ok := inv.stuff[c.Name]
	if !ok {
		return 0.0
	}
	next := average(current, amount, unitCost)
	inv.stuff[c.Name] = next
	return next.UnitCost
}

// ChangeExpecting applies the Change averaging rule to the expected ledger.
// Unknown goods start a new lot; a negative result clears the lot.
func (inv *Inventory) ChangeExpecting(c Commodity, delta, unitCost float64) float64 {
	if c.IsNil() {
		return 0.0
	}
	var next InventoryEntry
	if current, ok := inv.expecting[c.Name]; ok {
		next = average(current, delta, unitCost)
	} else {
		next = InventoryEntry{Amount: delta, UnitCost: unitCost}
	}
	if next.Amount < 0 {
		next = InventoryEntry{}
	}
	inv.track(c)
	inv.expecting[c.Name] = next
	return next.UnitCost
}

// average folds amount units at unitCost into a lot.
func average(current InventoryEntry, amount, unitCost float64) InventoryEntry {
	if unitCost <= 0 {
		return InventoryEntry{Amount: current.Amount + amount, UnitCost: current.UnitCost}
	}
	if current.Amount <= 0 {
		return InventoryEntry{Amount: amount, UnitCost: unitCost}
	}
	total := current.Amount + amount
	if total == 0 {
		// Withdrawing the whole lot at a positive cost would divide by zero.
		return InventoryEntry{Amount: 0, UnitCost: current.UnitCost}
	}
	cost := (current.Amount*current.UnitCost + amount*unitCost) / total
	return InventoryEntry{Amount: total, UnitCost: cost}
}

// Surplus returns how far on-hand c exceeds the ideal, never negative.
func (inv *Inventory) Surplus(c Commodity) float64 {
	amount := inv.QueryAmount(c)
	ideal := inv.ideal[c.Name]
	if amount > ideal {
		return amount - ideal
	}
	return 0.0
}

// Shortage returns how far on-hand plus expected c falls short of the ideal.
// Goods never held report no shortage.
func (inv *Inventory) Shortage(c Commodity) float64 {
	if !inv.Holds(c) {
		return 0.0
	}
	amount := inv.QueryAmount(c) + inv.QueryExpecting(c)
	ideal := inv.ideal[c.Name]
	if amount < ideal {
		return ideal - amount
	}
	return 0.0
}

// UsedSpace returns the storage occupied by on-hand goods.
func (inv *Inventory) UsedSpace() float64 {
	used := 0.0
	for _, name := range inv.order {
		if e, ok := inv.stuff[name]; ok {
			used += e.Amount * inv.goods[name].Space
		}
	}
	return used
}

// EmptySpace returns capacity minus used space. It may be negative.
func (inv *Inventory) EmptySpace() float64 {
	return inv.capacity - inv.UsedSpace()
}

// Clone returns an independent copy.
func (inv *Inventory) Clone() *Inventory {
	out := newInventory(inv.capacity)
	out.order = append(out.order, inv.order...)
	for k, v := range inv.goods {
		out.goods[k] = v
	}
	for k, v := range inv.stuff {
		out.stuff[k] = v
	}
	for k, v := range inv.expecting {
		out.expecting[k] = v
	}
	for k, v := range inv.ideal {
		out.ideal[k] = v
	}
	return out
}

// Lots returns the ledger state per commodity in registration order.
func (inv *Inventory) Lots() []Lot {
	lots := make([]Lot, 0, len(inv.order))
	for _, name := range inv.order {
		held := inv.stuff[name]
		exp := inv.expecting[name]
		lots = append(lots, Lot{
			Commodity:    inv.goods[name],
			Amount:       held.Amount,
			UnitCost:     held.UnitCost,
			Expecting:    exp.Amount,
			ExpectedCost: exp.UnitCost,
			Ideal:        inv.ideal[name],
		})
	}
	return lots
}

// FromLots rebuilds an inventory from Lots output. Lots with zero amount and
// zero cost are restored as held entries so Shortage keeps reporting them.
func FromLots(capacity float64, lots []Lot) (*Inventory, error) {
	inv := newInventory(capacity)
	for _, l := range lots {
		if l.Commodity.IsNil() {
			return nil, fmt.Errorf("restore lots: %w", ErrNilCommodity)
		}
		inv.track(l.Commodity)
		inv.stuff[l.Commodity.Name] = InventoryEntry{Amount: l.Amount, UnitCost: l.UnitCost}
		if l.Expecting != 0 || l.ExpectedCost != 0 {
			inv.expecting[l.Commodity.Name] = InventoryEntry{Amount: l.Expecting, UnitCost: l.ExpectedCost}
		}
		if l.Ideal != 0 {
			inv.ideal[l.Commodity.Name] = l.Ideal
		}
	}
	return inv, nil
}
