// Price observation trackers that shape how eagerly an agent trades.
package agents

import "github.com/talgya/bazaarbot/internal/economy"

// Default observations for a tracker created without any prices.
var defaultObservations = []float64{2.0, 6.0}

// PricingRange is the [Min, Max] span of recent prices for one commodity.
type PricingRange struct {
	Commodity economy.Commodity
	Min       float64
	Max       float64
}

// PositionInRange maps value linearly onto [0,1] relative to the range,
// clamping to [0,1] when clamp is set. A range collapsed to a point reads
// as fully favorable (1.0).
func (r PricingRange) PositionInRange(value float64, clamp bool) float64 {
	width := r.Max - r.Min
	if width == 0 {
		return 1.0
	}
	pos := (value - r.Min) / width
	if clamp {
		if pos < 0 {
			pos = 0.0
		}
		if pos > 1 {
			pos = 1.0
		}
	}
	return pos
}

// PricingHistory is the list of prices an agent has traded c at.
type PricingHistory struct {
	commodity economy.Commodity
	observed  []float64
}

// NewPricingHistory starts a tracker from prices, or from the defaults when none are given.
func NewPricingHistory(c economy.Commodity, prices ...float64) *PricingHistory {
	if len(prices) == 0 {
		prices = defaultObservations
	}
	return &PricingHistory{commodity: c, observed: append([]float64(nil), prices...)}
}

// Commodity returns the tracked good.
func (p *PricingHistory) Commodity() economy.Commodity { return p.commodity }

// Observations returns a copy of the recorded prices.
func (p *PricingHistory) Observations() []float64 {
	return append([]float64(nil), p.observed...)
}

// last returns the most recent window observations.
func (p *PricingHistory) last(window int) []float64 {
	if window <= 0 {
		return nil
	}
	if window > len(p.observed) {
		window = len(p.observed)
	}
	return p.observed[len(p.observed)-window:]
}

// Min returns the lowest of the last window observations, 0 when there are none.
func (p *PricingHistory) Min(window int) float64 {
	obs := p.last(window)
	if len(obs) == 0 {
		return 0.0
	}
	lo := obs[0]
	for _, v := range obs[1:] {
		lo = min(lo, v)
	}
	return lo
}

// Max returns the highest of the last window observations, 0 when there are none.
func (p *PricingHistory) Max(window int) float64 {
	obs := p.last(window)
	if len(obs) == 0 {
		return 0.0
	}
	hi := obs[0]
	for _, v := range obs[1:] {
		hi = max(hi, v)
	}
	return hi
}

// Observe returns the trading range over the last window observations.
func (p *PricingHistory) Observe(window int) PricingRange {
	return PricingRange{Commodity: p.commodity, Min: p.Min(window), Max: p.Max(window)}
}

// Add records a traded price.
func (p *PricingHistory) Add(unitPrice float64) {
	p.observed = append(p.observed, unitPrice)
}
