// Package history keeps the append-only per-round logs that drive agent
// price expectations.
package history

import json "github.com/goccy/go-json"

// Metric names one of the logs a market keeps.
type Metric string

const (
	Price  Metric = "price"  // Average clearing price per commodity
	Ask    Metric = "ask"    // Units offered per commodity
	Bid    Metric = "bid"    // Units demanded per commodity
	Trade  Metric = "trade"  // Units traded per commodity
	Profit Metric = "profit" // Average round profit per agent class
)

// Metrics lists every metric in a fixed order.
var Metrics = []Metric{Price, Ask, Bid, Trade, Profit}

// Log is an append-only series of observations per subject (commodity or
// agent class name).
type Log struct {
	Metric   Metric
	subjects []string
	series   map[string][]float64
}

// NewLog creates an empty log for a metric.
func NewLog(m Metric) *Log {
	return &Log{Metric: m, series: make(map[string][]float64)}
}

// Register creates an empty series for name. Registering twice is a no-op.
func (l *Log) Register(name string) {
	if _, ok := l.series[name]; ok {
		return
	}
	l.subjects = append(l.subjects, name)
	l.series[name] = []float64{}
}

// Registered reports whether name has a series.
func (l *Log) Registered(name string) bool {
	_, ok := l.series[name]
	return ok
}

// Add appends an observation. Unregistered names are ignored.
func (l *Log) Add(name string, amount float64) {
	if s, ok := l.series[name]; ok {
		l.series[name] = append(s, amount)
	}
}

// Average returns the mean of the last min(window, len) observations of
// name. An unknown name or an empty series averages to 0. A non-positive
// window returns -1.
func (l *Log) Average(name string, window int) float64 {
	s, ok := l.series[name]
	if !ok {
		return 0.0
	}
	if window <= 0 {
		return -1.0
	}
	if len(s) == 0 {
		return 0.0
	}
	if window > len(s) {
		window = len(s)
	}
	sum := 0.0
	for i := 0; i < window; i++ {
		sum += s[len(s)-1-i]
	}
	return sum / float64(window)
}

// Len returns the number of observations for name.
func (l *Log) Len(name string) int { return len(l.series[name]) }

// Last returns the most recent observation for name.
func (l *Log) Last(name string) (float64, bool) {
	s := l.series[name]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// Values returns a copy of the series for name.
func (l *Log) Values(name string) []float64 {
	s, ok := l.series[name]
	if !ok {
		return nil
	}
	return append([]float64(nil), s...)
}

// Subjects returns registered names in registration order.
func (l *Log) Subjects() []string {
	return append([]string(nil), l.subjects...)
}

// Clone returns a deep copy.
func (l *Log) Clone() *Log {
	out := NewLog(l.Metric)
	for _, name := range l.subjects {
		out.subjects = append(out.subjects, name)
		out.series[name] = append([]float64{}, l.series[name]...)
	}
	return out
}

// History bundles the five logs a market keeps.
type History struct {
	logs map[Metric]*Log
}

// New creates an empty history.
func New() *History {
	h := &History{logs: make(map[Metric]*Log, len(Metrics))}
	for _, m := range Metrics {
		h.logs[m] = NewLog(m)
	}
	return h
}

// RegisterCommodity registers name in the price, ask, bid and trade logs.
// Profit is keyed by agent class and registered separately.
func (h *History) RegisterCommodity(name string) {
	h.Prices().Register(name)
	h.Asks().Register(name)
	h.Bids().Register(name)
	h.Trades().Register(name)
}

// Commodities returns every commodity with a price series.
func (h *History) Commodities() []string { return h.Prices().Subjects() }

// Log returns the log for m.
func (h *History) Log(m Metric) *Log { return h.logs[m] }

func (h *History) Prices() *Log { return h.logs[Price] }
func (h *History) Asks() *Log   { return h.logs[Ask] }
func (h *History) Bids() *Log   { return h.logs[Bid] }
func (h *History) Trades() *Log { return h.logs[Trade] }
func (h *History) Profit() *Log { return h.logs[Profit] }

// Clone returns a deep copy.
func (h *History) Clone() *History {
	out := &History{logs: make(map[Metric]*Log, len(h.logs))}
	for m, l := range h.logs {
		out.logs[m] = l.Clone()
	}
	return out
}

// MarshalJSON encodes every series keyed by metric then subject.
func (h *History) MarshalJSON() ([]byte, error) {
	out := make(map[Metric]map[string][]float64, len(h.logs))
	for m, l := range h.logs {
		series := make(map[string][]float64, len(l.subjects))
		for _, name := range l.subjects {
			series[name] = l.series[name]
		}
		out[m] = series
	}
	return json.Marshal(out)
}
