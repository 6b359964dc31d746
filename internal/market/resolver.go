// Clearing strategies: the resolver pairs offers, the executor settles them.
package market

import (
	"errors"
	"sort"

	"github.com/talgya/bazaarbot/internal/economy"
)

var (
	// ErrNilStrategy is returned when a market is built without a resolver or executor.
	ErrNilStrategy = errors.New("market: nil resolver or executor")
	// ErrNoRandom is returned when a resolver is built without a random source.
	ErrNoRandom = errors.New("market: nil random source")
)

// Random is the injected source of nondeterminism. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

// ExecutionStatistics describes one matched trade.
type ExecutionStatistics struct {
	UnitsTraded float64
	MoneyTraded float64
}

// ResolutionStatistics aggregates the trades of one commodity in one round.
type ResolutionStatistics struct {
	Executions  []ExecutionStatistics
	UnitsTraded float64
	MoneyTraded float64
}

func newResolutionStatistics(executions []ExecutionStatistics) ResolutionStatistics {
	stats := ResolutionStatistics{Executions: executions}
	for _, e := range executions {
		stats.UnitsTraded += e.UnitsTraded
		stats.MoneyTraded += e.MoneyTraded
	}
	return stats
}

// OffersResolved returns the number of trades executed.
func (r ResolutionStatistics) OffersResolved() int { return len(r.Executions) }

// Resolution is the clearing outcome for one commodity.
type Resolution struct {
	Commodity economy.Commodity
	Stats     ResolutionStatistics
}

// Executor settles matched offers and notifies rejected ones.
type Executor interface {
	Execute(bid, ask *Offer) ExecutionStatistics
	RejectBid(o *Offer, unitPrice float64)
	RejectAsk(o *Offer, unitPrice float64)
}

// Resolver clears a tradebook into trades through an executor. It returns one
// resolution per commodity in book order.
type Resolver interface {
	Resolve(ex Executor, book *Tradebook) []Resolution
}

// DefaultResolver shuffles both sides, sorts asks cheapest first and always
// matches the head bid against the cheapest remaining ask. Bids are not price
// sorted; price priority only applies to supply.
type DefaultResolver struct {
	rng Random

	// LegacyBidAccounting grows a bid by the traded units instead of shrinking
	// it, so one bid keeps buying until the ask side runs out.
	LegacyBidAccounting bool
}

// NewDefaultResolver returns a resolver drawing shuffles from rng.
func NewDefaultResolver(rng Random) (*DefaultResolver, error) {
	if rng == nil {
		return nil, ErrNoRandom
	}
	return &DefaultResolver{rng: rng}, nil
}

// Resolve clears every commodity of the book independently.
func (r *DefaultResolver) Resolve(ex Executor, book *Tradebook) []Resolution {
	out := make([]Resolution, 0, len(book.order))
	for _, c := range book.Commodities() {
		bids := append([]*Offer(nil), book.Bids(c)...)
		asks := append([]*Offer(nil), book.Asks(c)...)

		if len(asks) == 0 {
			// Nothing to buy from; every bid is turned away.
			for _, o := range bids {
				ex.RejectBid(o, o.UnitPrice)
			}
			out = append(out, Resolution{Commodity: c, Stats: newResolutionStatistics(nil)})
			continue
		}
		out = append(out, Resolution{Commodity: c, Stats: r.resolveOfferSet(ex, bids, asks)})
	}
	return out
}

func (r *DefaultResolver) resolveOfferSet(ex Executor, bids, asks []*Offer) ResolutionStatistics {
	r.rng.Shuffle(len(bids), func(i, j int) { bids[i], bids[j] = bids[j], bids[i] })
	r.rng.Shuffle(len(asks), func(i, j int) { asks[i], asks[j] = asks[j], asks[i] })
	sortOffers(asks)

	var executed []ExecutionStatistics
	for len(bids) > 0 && len(asks) > 0 {
		buyer, seller := bids[0], asks[0]

		res := ex.Execute(buyer, seller)
		if res.UnitsTraded <= 0 {
			// No progress is possible; the leftovers are rejected below.
			break
		}
		executed = append(executed, res)
		seller.Units -= res.UnitsTraded
		if r.LegacyBidAccounting {
			buyer.Units += res.UnitsTraded
		} else {
			buyer.Units -= res.UnitsTraded
		}

		if seller.Units == 0 {
			asks = asks[1:]
		}
		if buyer.Units == 0 {
			bids = bids[1:]
		}
	}

	for _, o := range bids {
		ex.RejectBid(o, o.UnitPrice)
	}
	for _, o := range asks {
		ex.RejectAsk(o, o.UnitPrice)
	}
	return newResolutionStatistics(executed)
}

// sortOffers orders offers by ascending unit price, keeping shuffled order among equals.
func sortOffers(offers []*Offer) {
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].UnitPrice < offers[j].UnitPrice })
}

// ContractQuote prices delivering goods between two parties.
type ContractQuote struct {
	Cost         float64
	Risk         float64
	DeliveryTime float64
}

// ContractResolver moves traded goods from provider to receiver.
type ContractResolver interface {
	NewContract(provider, receiver Trader, c economy.Commodity, units, clearingPrice float64)
	Quote(source, dest Trader, space float64) ContractQuote
}

// ImmediateDelivery hands goods over at once, free of cost and risk.
type ImmediateDelivery struct{}

// NewContract resets the seller's lot and averages the buyer's cost basis at the clearing price.
func (ImmediateDelivery) NewContract(provider, receiver Trader, c economy.Commodity, units, clearingPrice float64) {
	provider.ChangeInventory(c, -units, 0.0)
	receiver.ChangeInventory(c, units, clearingPrice)
}

// Quote returns a zero quote.
func (ImmediateDelivery) Quote(source, dest Trader, space float64) ContractQuote {
	return ContractQuote{}
}

// DefaultExecutor trades min(bid, ask) units at the ask's price.
type DefaultExecutor struct {
	Contracts ContractResolver
}

// NewDefaultExecutor returns an executor delivering goods immediately.
func NewDefaultExecutor() *DefaultExecutor {
	return &DefaultExecutor{Contracts: ImmediateDelivery{}}
}

// Execute settles a matched pair: goods move seller to buyer, cash moves buyer
// to seller, and both agents observe the clearing price.
func (e *DefaultExecutor) Execute(bid, ask *Offer) ExecutionStatistics {
	quantity := min(bid.Units, ask.Units)
	price := ask.UnitPrice
	good := bid.Commodity
	buyer, seller := bid.Agent, ask.Agent

	e.Contracts.NewContract(seller, buyer, good, quantity, price)

	amount := quantity * price
	seller.SetMoney(seller.Money() + amount)
	buyer.SetMoney(buyer.Money() - amount)
	buyer.ReleaseExpected(good, quantity)

	buyer.UpdatePriceModel(Buy, good, true, price)
	seller.UpdatePriceModel(Sell, good, true, price)

	return ExecutionStatistics{UnitsTraded: quantity, MoneyTraded: amount}
}

// RejectBid reports a failed buy.
func (e *DefaultExecutor) RejectBid(o *Offer, unitPrice float64) {
	o.Agent.ReleaseExpected(o.Commodity, o.Units)
	o.Agent.UpdatePriceModel(Buy, o.Commodity, false, unitPrice)
}

// RejectAsk reports a failed sale.
func (e *DefaultExecutor) RejectAsk(o *Offer, unitPrice float64) {
	o.Agent.UpdatePriceModel(Sell, o.Commodity, false, unitPrice)
}
