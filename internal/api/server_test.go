package api

import (
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/bazaarbot/internal/archetype"
	"github.com/talgya/bazaarbot/internal/market"
)

func steppedMarket(t *testing.T, rounds int) *market.Market {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	f := archetype.NewFactory(rng, archetype.FactoryConfig{Money: 100, Capacity: 20, StartCost: 1})
	pop, err := f.Population(2, 2)
	require.NoError(t, err)
	r, err := market.NewDefaultResolver(rng)
	require.NoError(t, err)
	m, err := market.New("bazaar", market.Data{Goods: archetype.Goods(), Agents: pop}, market.Config{
		Resolver: r,
		Executor: market.NewDefaultExecutor(),
	})
	require.NoError(t, err)
	require.NoError(t, m.Simulate(rounds))
	return m
}

type fakeTrades struct {
	trades []market.Trade
	err    error
	limit  int
}

func (f *fakeTrades) RecentTrades(name string, limit int) ([]market.Trade, error) {
	f.limit = limit
	return f.trades, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestUnpublishedIsUnavailable(t *testing.T) {
	s := &Server{}
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/v1/status").Code)
}

func TestStatus(t *testing.T) {
	m := steppedMarket(t, 5)
	s := &Server{}
	s.Publish(NewReport(m))

	rec := get(t, s.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "bazaar", st.Market)
	assert.Equal(t, uint64(5), st.Round)
	assert.Equal(t, 4, st.Agents)
	assert.Contains(t, st.Prices, "wood")
	assert.InDelta(t, m.AverageHistoricalPrice(archetype.Crops, queryWindow), st.Prices["crops"], 1e-9)
}

func TestHistoryAndMetricFilter(t *testing.T) {
	s := &Server{}
	s.Publish(NewReport(steppedMarket(t, 3)))
	h := s.Handler()

	var all map[string]map[string][]float64
	require.NoError(t, json.Unmarshal(get(t, h, "/api/v1/history").Body.Bytes(), &all))
	assert.Len(t, all["trade"]["wood"], 4)

	var prices map[string][]float64
	rec := get(t, h, "/api/v1/history?metric=price")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prices))
	assert.Len(t, prices["crops"], 4)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/history?metric=weather").Code)
}

func TestAgentsAndDetail(t *testing.T) {
	m := steppedMarket(t, 2)
	s := &Server{}
	s.Publish(NewReport(m))
	h := s.Handler()

	var list []map[string]any
	require.NoError(t, json.Unmarshal(get(t, h, "/api/v1/agents?class=farmer").Body.Bytes(), &list))
	assert.Len(t, list, 2)

	id := m.Agents()[0].ID()
	rec := get(t, h, "/api/v1/agent/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail market.AgentSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, id, detail.ID)
	assert.NotEmpty(t, detail.Inventory)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/agent/nobody").Code)
}

func TestTrades(t *testing.T) {
	src := &fakeTrades{trades: []market.Trade{{Round: 1, Commodity: "wood", Units: 2, Price: 1}}}
	s := &Server{Trades: src}
	s.Publish(NewReport(steppedMarket(t, 1)))
	h := s.Handler()

	rec := get(t, h, "/api/v1/trades?limit=10000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxTradesLimit, src.limit)
	var trades []market.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Equal(t, src.trades, trades)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/trades?limit=zero").Code)

	src.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/v1/trades").Code)

	noDB := &Server{}
	noDB.Publish(NewReport(steppedMarket(t, 1)))
	assert.Equal(t, http.StatusNotFound, get(t, noDB.Handler(), "/api/v1/trades").Code)
}

func TestStopNeedsAdminKey(t *testing.T) {
	stopped := 0
	s := &Server{AdminKey: "secret", OnStop: func() { stopped++ }}
	h := s.Handler()

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("guess"))
	assert.Equal(t, http.StatusOK, post("secret"))
	assert.Equal(t, 1, stopped)
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/api/v1/stop").Code)

	disabled := &Server{}
	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "clients are limited separately")
	assert.Equal(t, 61, rl.RetryAfter("a"))

	clock = clock.Add(time.Minute)
	assert.True(t, rl.Allow("a"), "window reset")

	clock = clock.Add(5 * time.Minute)
	rl.Allow("c")
	rl.mu.Lock()
	_, stale := rl.buckets["b"]
	rl.mu.Unlock()
	assert.False(t, stale, "stale buckets are swept")
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientAddr(r))

	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", clientAddr(r))
}
