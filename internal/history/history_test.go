package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageWindow(t *testing.T) {
	l := NewLog(Price)
	l.Register("grain")

	assert.Equal(t, 0.0, l.Average("grain", 5), "empty series")
	assert.Equal(t, 0.0, l.Average("unknown", 5), "unknown subject")

	for _, v := range []float64{1, 2, 3, 4} {
		l.Add("grain", v)
	}
	assert.Equal(t, 3.5, l.Average("grain", 2))
	assert.Equal(t, 2.5, l.Average("grain", 10), "short series averages everything")
	assert.Equal(t, 4.0, l.Average("grain", 1))
	assert.Equal(t, -1.0, l.Average("grain", 0))
	assert.Equal(t, -1.0, l.Average("grain", -3))
}

func TestAddIgnoresUnregistered(t *testing.T) {
	l := NewLog(Profit)
	l.Add("farmer", 3)
	assert.False(t, l.Registered("farmer"))
	assert.Nil(t, l.Values("farmer"))

	l.Register("farmer")
	l.Register("farmer")
	l.Add("farmer", 3)
	assert.Equal(t, []float64{3}, l.Values("farmer"))
	assert.Equal(t, []string{"farmer"}, l.Subjects())
}

func TestHistoryRegisterAndClone(t *testing.T) {
	h := New()
	h.RegisterCommodity("wood")
	h.RegisterCommodity("crops")

	h.Prices().Add("wood", 1)
	h.Profit().Add("wood", 1)
	assert.False(t, h.Profit().Registered("wood"), "profit is keyed by agent class")

	cp := h.Clone()
	cp.Prices().Add("wood", 2)

	assert.Equal(t, []float64{1}, h.Prices().Values("wood"))
	assert.Equal(t, []float64{1, 2}, cp.Prices().Values("wood"))
	assert.Equal(t, []string{"wood", "crops"}, cp.Commodities())

	last, ok := cp.Prices().Last("wood")
	require.True(t, ok)
	assert.Equal(t, 2.0, last)
	_, ok = cp.Prices().Last("crops")
	assert.False(t, ok)
}

func TestMarshalJSON(t *testing.T) {
	h := New()
	h.RegisterCommodity("wood")
	h.Prices().Add("wood", 1.5)
	h.Profit().Register("farmer")

	raw, err := h.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"price":  {"wood": [1.5]},
		"ask":    {"wood": []},
		"bid":    {"wood": []},
		"trade":  {"wood": []},
		"profit": {"farmer": []}
	}`, string(raw))
}
