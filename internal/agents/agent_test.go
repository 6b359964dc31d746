package agents

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/bazaarbot/internal/economy"
	"github.com/talgya/bazaarbot/internal/market"
)

var (
	crops = economy.MustCommodity("crops", 1.0)
	wood  = economy.MustCommodity("wood", 2.0)
)

// captureResolver records staged offers instead of clearing them.
type captureResolver struct {
	bids, asks []market.Offer
}

func (c *captureResolver) Resolve(ex market.Executor, book *market.Tradebook) []market.Resolution {
	for _, g := range book.Commodities() {
		for _, o := range book.Bids(g) {
			c.bids = append(c.bids, *o)
		}
		for _, o := range book.Asks(g) {
			c.asks = append(c.asks, *o)
		}
	}
	return nil
}

func farmerData() economy.InventoryData {
	return economy.InventoryData{
		MaxSize:   20,
		Ideal:     map[economy.Commodity]float64{crops: 0, wood: 3},
		Start:     map[economy.Commodity]float64{crops: 1, wood: 0},
		StartCost: 1.0,
	}
}

func newFarmer(t *testing.T, behavior Behavior) *Agent {
	t.Helper()
	a, err := New("f1", "farmer", behavior, farmerData(), 100)
	require.NoError(t, err)
	return a
}

func newCaptureMarket(t *testing.T) (*market.Market, *captureResolver) {
	t.Helper()
	capture := &captureResolver{}
	m, err := market.New("test", market.Data{Goods: []economy.Commodity{crops, wood}}, market.Config{
		Resolver: capture,
		Executor: market.NewDefaultExecutor(),
	})
	require.NoError(t, err)
	return m, capture
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("", "farmer", nil, farmerData(), 1)
	assert.Error(t, err)

	bad := farmerData()
	bad.Start = map[economy.Commodity]float64{crops: -1}
	_, err = New("x", "farmer", nil, bad, 1)
	assert.ErrorIs(t, err, economy.ErrInvalidInventoryData)
}

func TestGenerateOffersAsksSurplusAndBidsShortage(t *testing.T) {
	m, capture := newCaptureMarket(t)
	a := newFarmer(t, nil)

	a.GenerateOffers(m, crops)
	a.GenerateOffers(m, wood)
	require.NoError(t, m.Step())

	require.Len(t, capture.asks, 1)
	ask := capture.asks[0]
	assert.Equal(t, crops, ask.Commodity)
	assert.Equal(t, 1.0, ask.Units)
	assert.InDelta(t, 1.02, ask.UnitPrice, 1e-12)

	require.Len(t, capture.bids, 1)
	bid := capture.bids[0]
	assert.Equal(t, wood, bid.Commodity)
	assert.Equal(t, 3.0, bid.Units)
	assert.InDelta(t, 1.02, bid.UnitPrice, 1e-12, "no expected lot yet: anchored on the market price")

	assert.Equal(t, 3.0, a.Inventory().QueryExpecting(wood))
	assert.InDelta(t, 1.02, a.Inventory().QueryCost(wood), 1e-12)
	assert.Equal(t, 0.0, a.Inventory().Shortage(wood), "pending bid covers the shortage")
}

func TestGenerateOffersFallsBackToFreeSpace(t *testing.T) {
	m, capture := newCaptureMarket(t)
	a, err := New("w", "woodcutter", nil, economy.InventoryData{
		MaxSize: 10,
		Ideal:   map[economy.Commodity]float64{crops: 0},
		Start:   map[economy.Commodity]float64{crops: 0, wood: 1},
	}, 50)
	require.NoError(t, err)

	a.GenerateOffers(m, crops)
	require.NoError(t, m.Step())

	require.Len(t, capture.bids, 1)
	assert.Equal(t, 8.0, capture.bids[0].Units, "no shortage: bid for the free space")
}

func TestCreateOffersNeedPositiveQuantity(t *testing.T) {
	m, _ := newCaptureMarket(t)
	a := newFarmer(t, nil)
	assert.Nil(t, a.CreateBid(m, crops, 0))
	assert.Nil(t, a.CreateAsk(m, wood, -1))
}

func TestDetermineQuantities(t *testing.T) {
	a := newFarmer(t, nil)

	assert.Equal(t, 0.0, a.DeterminePurchaseQuantity(ObserveWindow, 0, wood), "no price history")
	assert.Equal(t, 3.0, a.DeterminePurchaseQuantity(ObserveWindow, 1, wood), "collapsed range is fully favorable")
	assert.Equal(t, 0.0, a.DeterminePurchaseQuantity(ObserveWindow, 1, crops), "no shortage")

	a.UpdatePriceModel(market.Buy, wood, true, 3)
	// Range [1,3]; 1.5 sits at 0.25; 0.25 * 3 rounds to 1.
	assert.Equal(t, 1.0, a.DeterminePurchaseQuantity(ObserveWindow, 1.5, wood))
	// 0.5 sits below the range; clamps to 0, floored to one unit.
	assert.Equal(t, 1.0, a.DeterminePurchaseQuantity(ObserveWindow, 0.5, wood))

	a.Inventory().Add(crops, 5, 1)
	// Range for crops is [1,1]: favorable; surplus 5.
	assert.Equal(t, 5.0, a.DetermineSaleQuantity(ObserveWindow, 2, crops))
}

func TestTargetQuantityRoundsHalfToEven(t *testing.T) {
	assert.Equal(t, 2.0, targetQuantity(0.5, 5))
	assert.Equal(t, 4.0, targetQuantity(0.5, 7))
	assert.Equal(t, 1.0, targetQuantity(0.1, 2))
	assert.Equal(t, 0.0, targetQuantity(1, 0))
}

func TestUpdatePriceModelIgnoresRejections(t *testing.T) {
	a := newFarmer(t, nil)
	a.UpdatePriceModel(market.Sell, crops, false, 10)

	r, ok := a.ObserveTradingRange(crops, ObserveWindow)
	require.True(t, ok)
	assert.Equal(t, PricingRange{Commodity: crops, Min: 1, Max: 1}, r)

	_, ok = a.ObserveTradingRange(economy.MustCommodity("gems", 1), ObserveWindow)
	assert.False(t, ok)

	gems := economy.MustCommodity("gems", 1)
	a.UpdatePriceModel(market.Buy, gems, true, 4)
	r, ok = a.ObserveTradingRange(gems, ObserveWindow)
	require.True(t, ok)
	assert.Equal(t, 4.0, r.Max)
}

func TestProductionCarriesConsumedCost(t *testing.T) {
	a := newFarmer(t, nil)
	a.ChangeInventory(wood, 2, 3.0)

	a.ConsumeInventoryItem(wood, -1)
	assert.Equal(t, 1.0, a.QueryInventory(wood))

	a.ProduceInventory(crops, 6)
	// 1 crop @1 plus 6 crops costing the 3.0 of wood burned.
	assert.Equal(t, 7.0, a.QueryInventory(crops))
	assert.InDelta(t, (1*1.0+6*0.5)/7, a.Inventory().QueryUnitCost(crops), 1e-12)

	// Nothing spent since: produced units cost at least 1 in total.
	a.ProduceInventory(wood, 4)
	assert.InDelta(t, (1*3.0+4*0.25)/5, a.Inventory().QueryUnitCost(wood), 1e-12)
}

func TestMoneyPseudoCommodity(t *testing.T) {
	a := newFarmer(t, nil)
	a.ConsumeInventoryItem(economy.Money, -2)
	assert.Equal(t, 98.0, a.Money())
	a.ChangeInventory(economy.Money, 5, 0)
	assert.Equal(t, 103.0, a.Money())

	a.ProduceInventory(crops, 2)
	assert.InDelta(t, (1*1.0+2*1.0)/3, a.Inventory().QueryUnitCost(crops), 1e-12, "money spent costs production")
}

func TestAddInventoryItemSetsAmount(t *testing.T) {
	a := newFarmer(t, nil)
	a.AddInventoryItem(crops, 4)
	assert.Equal(t, 4.0, a.QueryInventory(crops))
	assert.Equal(t, 0.25, a.Inventory().QueryUnitCost(crops))

	a.AddInventoryItem(crops, 0)
	assert.Equal(t, 4.0, a.QueryInventory(crops))
}

func TestSimulateTracksRoundProfit(t *testing.T) {
	m, _ := newCaptureMarket(t)
	a := newFarmer(t, func(a *Agent, m *market.Market) { a.SetMoney(a.Money() - 7) })

	a.Simulate(m)
	assert.Equal(t, -7.0, a.LastRoundProfit())
	a.Simulate(m)
	assert.Equal(t, -7.0, a.LastRoundProfit())
	assert.Equal(t, 86.0, a.Money())
}

func TestSnapshotRestore(t *testing.T) {
	a := newFarmer(t, nil)
	a.Inventory().ChangeExpecting(wood, 2, 1.5)

	b, err := FromSnapshot(a.Snapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.False(t, b.IsInventoryFull())
}

func TestAgentsTradeThroughMarket(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	resolver, err := market.NewDefaultResolver(rng)
	require.NoError(t, err)

	seller := newFarmer(t, nil)
	buyer, err := New("w1", "woodcutter", nil, economy.InventoryData{
		MaxSize:   20,
		Ideal:     map[economy.Commodity]float64{crops: 3, wood: 0},
		Start:     map[economy.Commodity]float64{crops: 0, wood: 0},
		StartCost: 1.0,
	}, 100)
	require.NoError(t, err)

	m, err := market.New("m", market.Data{Goods: []economy.Commodity{crops, wood}, Agents: []market.Trader{seller, buyer}},
		market.Config{Resolver: resolver, Executor: market.NewDefaultExecutor()})
	require.NoError(t, err)
	require.NoError(t, m.Step())

	trades := m.LastTrades()
	require.NotEmpty(t, trades)
	assert.Equal(t, "crops", trades[0].Commodity)
	assert.Equal(t, "f1", trades[0].Seller)
	assert.Equal(t, 1.0, buyer.QueryInventory(crops))
	assert.InDelta(t, 200.0, seller.Money()+buyer.Money(), 1e-9)
	assert.Equal(t, 0.0, buyer.Inventory().QueryExpecting(crops), "settled and rejected units leave the expected ledger")
}
