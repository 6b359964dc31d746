// Package market runs the per-round double auction: agents decide, offers
// are staged and cleared, history is updated and insolvent agents are reported.
package market

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/bazaarbot/internal/economy"
	"github.com/talgya/bazaarbot/internal/history"
)

// Trader is what the market needs from an agent.
type Trader interface {
	ID() string
	ClassName() string

	// Simulate runs the agent's behavior for the round.
	Simulate(m *Market)
	// GenerateOffers stages at most one bid or ask for c.
	GenerateOffers(m *Market, c economy.Commodity)
	UpdatePriceModel(side Side, c economy.Commodity, success bool, unitPrice float64)
	// ReleaseExpected removes units of c from the expected ledger once a bid settles or fails.
	ReleaseExpected(c economy.Commodity, units float64)
	ChangeInventory(c economy.Commodity, amount, unitCost float64)

	Money() float64
	SetMoney(v float64)
	LastRoundProfit() float64
	Snapshot() AgentSnapshot
}

// BankruptcyHandler decides what happens to an agent whose cash fell to zero
// or below. It may replace the agent through Market.ReplaceAgent.
type BankruptcyHandler interface {
	SignalBankrupt(m *Market, agent Trader)
}

// BankruptcyFunc adapts a function to BankruptcyHandler.
type BankruptcyFunc func(m *Market, agent Trader)

func (f BankruptcyFunc) SignalBankrupt(m *Market, agent Trader) { f(m, agent) }

// InitConfig seeds history so windowed averages are defined from round one.
type InitConfig struct {
	DefaultTrade  float64            // Seed for commodities missing from StartingTrade; 1.0 when zero
	StartingTrade map[string]float64 // Per commodity seed
}

// Starting returns the seed value for c.
func (ic InitConfig) Starting(c economy.Commodity) float64 {
	if v, ok := ic.StartingTrade[c.Name]; ok {
		return v
	}
	if ic.DefaultTrade != 0 {
		return ic.DefaultTrade
	}
	return 1.0
}

// Data is the initial population of a market.
type Data struct {
	Goods  []economy.Commodity
	Agents []Trader
}

// Config wires the pluggable collaborators of a market.
type Config struct {
	Resolver   Resolver
	Executor   Executor
	Bankruptcy BankruptcyHandler // nil logs bankruptcies and does nothing else
	Init       InitConfig
}

// Trade is one settled trade, kept for the round it happened in.
type Trade struct {
	Round     uint64  `json:"round"`
	Commodity string  `json:"commodity"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Units     float64 `json:"units"`
	Price     float64 `json:"price"`
}

// AgentSnapshot is a copy of one agent's state.
type AgentSnapshot struct {
	ID        string        `json:"id"`
	ClassName string        `json:"class_name"`
	Money     float64       `json:"money"`
	Capacity  float64       `json:"capacity"`
	Inventory []economy.Lot `json:"inventory"`
}

// Snapshot is a copy of a market's history and agents.
type Snapshot struct {
	Market  string           `json:"market"`
	Round   uint64           `json:"round"`
	History *history.History `json:"history"`
	Agents  []AgentSnapshot  `json:"agents"`
}

// Market owns the tradebook, the history and the live agent list.
type Market struct {
	name       string
	history    *history.History
	book       *Tradebook
	goods      []economy.Commodity
	agents     []Trader
	resolver   Resolver
	executor   Executor
	bankruptcy BankruptcyHandler
	init       InitConfig
	round      uint64

	lastResolutions []Resolution
	lastTrades      []Trade
}

// New creates a market, priming history for every good.
func New(name string, data Data, cfg Config) (*Market, error) {
	if cfg.Resolver == nil || cfg.Executor == nil {
		return nil, ErrNilStrategy
	}
	m := &Market{
		name:       name,
		history:    history.New(),
		book:       NewTradebook(),
		resolver:   cfg.Resolver,
		executor:   cfg.Executor,
		bankruptcy: cfg.Bankruptcy,
		init:       cfg.Init,
	}
	for _, g := range data.Goods {
		if g.IsNil() {
			return nil, fmt.Errorf("market %q: %w", name, economy.ErrNilCommodity)
		}
		m.goods = append(m.goods, g)
		m.primeHistory(m.history, g)
		m.book.Register(g)
	}
	for i, a := range data.Agents {
		if a == nil {
			return nil, fmt.Errorf("market %q: nil agent at %d", name, i)
		}
	}
	m.agents = append(m.agents, data.Agents...)
	return m, nil
}

func (m *Market) primeHistory(h *history.History, g economy.Commodity) {
	v := m.init.Starting(g)
	h.RegisterCommodity(g.Name)
	h.Prices().Add(g.Name, v)
	h.Asks().Add(g.Name, v)
	h.Bids().Add(g.Name, v)
	h.Trades().Add(g.Name, v)
}

// Name returns the market name.
func (m *Market) Name() string { return m.name }

// Round returns the number of completed rounds.
func (m *Market) Round() uint64 { return m.round }

// Commodities returns the goods traded here.
func (m *Market) Commodities() []economy.Commodity {
	return append([]economy.Commodity(nil), m.goods...)
}

// Agents returns the live agents.
func (m *Market) Agents() []Trader { return append([]Trader(nil), m.agents...) }

// History exposes the live history for reads.
func (m *Market) History() *history.History { return m.history }

// LoadHistory replaces the history, e.g. when resuming from storage. Goods
// missing from h are registered and primed.
func (m *Market) LoadHistory(h *history.History) {
	for _, g := range m.goods {
		if !h.Prices().Registered(g.Name) {
			m.primeHistory(h, g)
		}
	}
	m.history = h
}

// SetRound sets the round counter, e.g. when resuming from storage.
func (m *Market) SetRound(round uint64) { m.round = round }

// LastResolutions returns the clearing outcome of the last round.
func (m *Market) LastResolutions() []Resolution { return m.lastResolutions }

// LastTrades returns the trades settled in the last round, in execution order.
func (m *Market) LastTrades() []Trade { return append([]Trade(nil), m.lastTrades...) }

// ReplaceAgent swaps old for replacement in the agent list.
func (m *Market) ReplaceAgent(old, replacement Trader) bool {
	for i, a := range m.agents {
		if a == old {
			m.agents[i] = replacement
			return true
		}
	}
	return false
}

// Ask stages a sell offer for this round. Nil offers are ignored.
func (m *Market) Ask(o *Offer) {
	if o == nil {
		return
	}
	o.TimePut = m.round
	m.book.Ask(o)
}

// Bid stages a buy offer for this round. Nil offers are ignored.
func (m *Market) Bid(o *Offer) {
	if o == nil {
		return
	}
	o.TimePut = m.round
	m.book.Bid(o)
}

// Simulate runs rounds one after another, stopping at the first failure.
func (m *Market) Simulate(rounds int) error {
	for i := 0; i < rounds; i++ {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one round: decisions, clearing, history, solvency. When an
// agent's cash stops being a number the round fails before anything is
// written to history and the round counter stays put. Agent state touched
// during clearing is not rolled back.
func (m *Market) Step() error {
	for _, a := range m.agents {
		a.Simulate(m)
		for _, c := range m.goods {
			a.GenerateOffers(m, c)
		}
	}

	results, volumes := m.resolveOffers()
	if err := m.checkNumeric(); err != nil {
		return err
	}
	m.record(results, volumes)

	var bankrupt []Trader
	for _, a := range m.agents {
		if a.Money() <= 0 {
			bankrupt = append(bankrupt, a)
		}
	}
	for _, a := range bankrupt {
		slog.Info("agent bankrupt",
			"market", m.name,
			"round", m.round,
			"agent", a.ID(),
			"class", a.ClassName(),
			"money", a.Money(),
		)
		if m.bankruptcy != nil {
			m.bankruptcy.SignalBankrupt(m, a)
		}
	}

	m.round++
	return nil
}

// checkNumeric fails the round when any agent's cash is no longer a number.
func (m *Market) checkNumeric() error {
	for _, a := range m.agents {
		if v := a.Money(); math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("market %q round %d: agent %s cash is %v", m.name, m.round, a.ID(), v)
		}
	}
	return nil
}

// bookVolume is the units offered on each side of one commodity before clearing.
type bookVolume struct {
	ask, bid float64
}

func (m *Market) resolveOffers() ([]Resolution, []bookVolume) {
	commodities := m.book.Commodities()
	volumes := make([]bookVolume, len(commodities))
	for i, c := range commodities {
		volumes[i] = bookVolume{ask: m.book.Volume(Sell, c), bid: m.book.Volume(Buy, c)}
	}

	m.lastTrades = m.lastTrades[:0]
	results := m.resolver.Resolve(&journal{Executor: m.executor, m: m}, m.book)
	m.book.Clear()
	m.lastResolutions = results
	return results, volumes
}

// record folds a cleared round into history.
func (m *Market) record(results []Resolution, volumes []bookVolume) {
	commodities := m.book.Commodities()
	for i, c := range commodities {
		m.history.Asks().Add(c.Name, volumes[i].ask)
	}
	for i, c := range commodities {
		m.history.Bids().Add(c.Name, volumes[i].bid)
	}

	for _, r := range results {
		name := r.Commodity.Name
		m.history.Trades().Add(name, r.Stats.UnitsTraded)

		price := 0.0
		if r.Stats.UnitsTraded > 0 {
			price = r.Stats.MoneyTraded / r.Stats.UnitsTraded
		} else {
			// No trades this round: carry last round's price forward.
			price = m.history.Prices().Average(name, 1)
		}
		m.history.Prices().Add(name, price)

		slog.Debug("commodity cleared",
			"market", m.name,
			"round", m.round,
			"commodity", name,
			"trades", r.Stats.OffersResolved(),
			"units", r.Stats.UnitsTraded,
			"price", price,
		)
	}

	m.recordProfit()
}

// recordProfit appends the average round profit of each agent class.
func (m *Market) recordProfit() {
	ag := append([]Trader(nil), m.agents...)
	sort.SliceStable(ag, func(i, j int) bool { return ag[i].ClassName() < ag[j].ClassName() })

	profit := m.history.Profit()
	flush := func(class string, sum float64, n int) {
		profit.Register(class)
		profit.Add(class, sum/float64(n))
	}

	var (
		class string
		sum   float64
		n     int
	)
	for _, a := range ag {
		if n > 0 && a.ClassName() != class {
			flush(class, sum, n)
			sum, n = 0, 0
		}
		class = a.ClassName()
		sum += a.LastRoundProfit()
		n++
	}
	if n > 0 {
		flush(class, sum, n)
	}
}

// journal records every settled trade before delegating.
type journal struct {
	Executor
	m *Market
}

func (j *journal) Execute(bid, ask *Offer) ExecutionStatistics {
	res := j.Executor.Execute(bid, ask)
	if res.UnitsTraded > 0 {
		j.m.lastTrades = append(j.m.lastTrades, Trade{
			Round:     j.m.round,
			Commodity: bid.Commodity.Name,
			Buyer:     bid.Agent.ID(),
			Seller:    ask.Agent.ID(),
			Units:     res.UnitsTraded,
			Price:     ask.UnitPrice,
		})
	}
	return res
}

// AverageHistoricalPrice returns the mean clearing price of c over the last window rounds.
func (m *Market) AverageHistoricalPrice(c economy.Commodity, window int) float64 {
	return m.history.Prices().Average(c.Name, window)
}

// HottestGood returns the good with the highest bid/ask volume ratio above
// minimum over window rounds.
func (m *Market) HottestGood(minimum float64, window int) (economy.Commodity, bool) {
	var (
		best      economy.Commodity
		bestRatio = math.Inf(-1)
		found     bool
	)
	for _, g := range m.goods {
		asks := m.history.Asks().Average(g.Name, window)
		bids := m.history.Bids().Average(g.Name, window)
		if asks == 0 {
			if bids <= 0 {
				continue
			}
			// Pretend half a unit is on offer so empty supply doesn't read as infinite demand.
			asks = 0.5
		}
		ratio := bids / asks
		if ratio > minimum && ratio > bestRatio {
			best, bestRatio, found = g, ratio, true
		}
	}
	return best, found
}

// CheapestGood returns the good with the lowest average price, skipping exclude.
func (m *Market) CheapestGood(window int, exclude ...economy.Commodity) (economy.Commodity, bool) {
	return m.extremeGood(window, exclude, func(price, best float64) bool { return price < best }, math.Inf(1))
}

// DearestGood returns the good with the highest average price, skipping exclude.
func (m *Market) DearestGood(window int, exclude ...economy.Commodity) (economy.Commodity, bool) {
	return m.extremeGood(window, exclude, func(price, best float64) bool { return price > best }, math.Inf(-1))
}

func (m *Market) extremeGood(window int, exclude []economy.Commodity, better func(price, best float64) bool, start float64) (economy.Commodity, bool) {
	var (
		best  economy.Commodity
		found bool
	)
	bestPrice := start
outer:
	for _, g := range m.goods {
		for _, x := range exclude {
			if g.Is(x) {
				continue outer
			}
		}
		price := m.history.Prices().Average(g.Name, window)
		if better(price, bestPrice) {
			best, bestPrice, found = g, price, true
		}
	}
	return best, found
}

// AgentClassNames returns the distinct class names of live agents, sorted.
func (m *Market) AgentClassNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range m.agents {
		if !seen[a.ClassName()] {
			seen[a.ClassName()] = true
			names = append(names, a.ClassName())
		}
	}
	sort.Strings(names)
	return names
}

// MostProfitableAgentClass returns the class with the best average profit
// over window rounds, or "" when no class has any.
func (m *Market) MostProfitableAgentClass(window int) string {
	best := math.Inf(-1)
	bestClass := ""
	for _, class := range m.AgentClassNames() {
		if !m.history.Profit().Registered(class) {
			continue
		}
		if v := m.history.Profit().Average(class, window); v > best {
			best, bestClass = v, class
		}
	}
	return bestClass
}

// Snapshot copies the history and every agent's state.
func (m *Market) Snapshot() Snapshot {
	agents := make([]AgentSnapshot, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a.Snapshot())
	}
	return Snapshot{
		Market:  m.name,
		Round:   m.round,
		History: m.history.Clone(),
		Agents:  agents,
	}
}
