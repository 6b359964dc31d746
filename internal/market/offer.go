// Offers and the per-round tradebook.
package market

import (
	"fmt"

	"github.com/talgya/bazaarbot/internal/economy"
)

// Side is the direction of an offer.
type Side uint8

const (
	Buy  Side = iota // Bid
	Sell             // Ask
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Offer is one agent's bid or ask for one commodity. The offer does not own
// the agent and never outlives the round it was placed in.
type Offer struct {
	Agent     Trader
	Commodity economy.Commodity
	Units     float64 // Remaining units; reduced as the offer is matched
	UnitPrice float64
	TimePut   uint64 // Round the offer was submitted in
}

// NewOffer builds an offer. Non-positive units yield nil: there is nothing to trade.
func NewOffer(agent Trader, c economy.Commodity, units, unitPrice float64) *Offer {
	if units <= 0 || agent == nil || c.IsNil() {
		return nil
	}
	if unitPrice < 0 {
		unitPrice = 0
	}
	return &Offer{Agent: agent, Commodity: c, Units: units, UnitPrice: unitPrice}
}

func (o *Offer) String() string {
	return fmt.Sprintf("(%s): %s x %g @ %g", o.Agent.ID(), o.Commodity, o.Units, o.UnitPrice)
}

// Tradebook stages the bids and asks of one round per commodity. Commodities
// keep their registration order so clearing is reproducible.
type Tradebook struct {
	order []string
	goods map[string]economy.Commodity
	bids  map[string][]*Offer
	asks  map[string][]*Offer
}

// NewTradebook creates an empty tradebook.
func NewTradebook() *Tradebook {
	return &Tradebook{
		goods: make(map[string]economy.Commodity),
		bids:  make(map[string][]*Offer),
		asks:  make(map[string][]*Offer),
	}
}

// Register adds a commodity with empty bid and ask lists.
func (b *Tradebook) Register(c economy.Commodity) {
	if _, ok := b.goods[c.Name]; ok {
		return
	}
	b.order = append(b.order, c.Name)
	b.goods[c.Name] = c
	b.bids[c.Name] = nil
	b.asks[c.Name] = nil
}

// Bid stages a buy offer, registering its commodity on first sight.
func (b *Tradebook) Bid(o *Offer) {
	b.Register(o.Commodity)
	b.bids[o.Commodity.Name] = append(b.bids[o.Commodity.Name], o)
}

// Ask stages a sell offer, registering its commodity on first sight.
func (b *Tradebook) Ask(o *Offer) {
	b.Register(o.Commodity)
	b.asks[o.Commodity.Name] = append(b.asks[o.Commodity.Name], o)
}

// Commodities returns registered commodities in registration order.
func (b *Tradebook) Commodities() []economy.Commodity {
	out := make([]economy.Commodity, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.goods[name])
	}
	return out
}

// Bids returns the staged bids for c in submission order.
func (b *Tradebook) Bids(c economy.Commodity) []*Offer { return b.bids[c.Name] }

// Asks returns the staged asks for c in submission order.
func (b *Tradebook) Asks(c economy.Commodity) []*Offer { return b.asks[c.Name] }

// Volume returns the total units staged on one side for c.
func (b *Tradebook) Volume(side Side, c economy.Commodity) float64 {
	offers := b.bids[c.Name]
	if side == Sell {
		offers = b.asks[c.Name]
	}
	total := 0.0
	for _, o := range offers {
		total += o.Units
	}
	return total
}

// Clear drops every staged offer. Registrations survive.
func (b *Tradebook) Clear() {
	for _, name := range b.order {
		b.bids[name] = nil
		b.asks[name] = nil
	}
}
