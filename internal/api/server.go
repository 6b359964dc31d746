// Package api provides the HTTP API for observing a running market.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/talgya/bazaarbot/internal/market"
)

const (
	queryWindow    = 10  // Rounds averaged by the status queries
	defaultTrades  = 50  // Trades returned when no limit is given
	maxTradesLimit = 500 // Upper bound on ?limit=
)

// TradeSource serves the persisted trade journal.
type TradeSource interface {
	RecentTrades(name string, limit int) ([]market.Trade, error)
}

// Status is the per-round summary served at /api/v1/status.
type Status struct {
	Market         string             `json:"market"`
	Round          uint64             `json:"round"`
	Agents         int                `json:"agents"`
	Prices         map[string]float64 `json:"prices"` // Average over the last rounds
	MostProfitable string             `json:"most_profitable,omitempty"`
	Hottest        string             `json:"hottest,omitempty"`
	Cheapest       string             `json:"cheapest,omitempty"`
	Dearest        string             `json:"dearest,omitempty"`
	PublishedAt    time.Time          `json:"published_at"`
}

// Report is what the simulation publishes after each round.
type Report struct {
	Status   Status
	Snapshot market.Snapshot
}

// NewReport captures m. It must run on the goroutine that steps m.
func NewReport(m *market.Market) Report {
	st := Status{
		Market:         m.Name(),
		Round:          m.Round(),
		Agents:         len(m.Agents()),
		Prices:         make(map[string]float64),
		MostProfitable: m.MostProfitableAgentClass(queryWindow),
		PublishedAt:    time.Now().UTC(),
	}
	for _, c := range m.Commodities() {
		st.Prices[c.Name] = m.AverageHistoricalPrice(c, queryWindow)
	}
	if c, ok := m.HottestGood(1.5, queryWindow); ok {
		st.Hottest = c.Name
	}
	if c, ok := m.CheapestGood(queryWindow); ok {
		st.Cheapest = c.Name
	}
	if c, ok := m.DearestGood(queryWindow); ok {
		st.Dearest = c.Name
	}
	return Report{Status: st, Snapshot: m.Snapshot()}
}

// Server serves the latest published report over HTTP.
type Server struct {
	Port     int
	AdminKey string      // Bearer token for POST endpoints. Empty = POST disabled.
	Trades   TradeSource // nil disables /api/v1/trades
	OnStop   func()      // Called by POST /api/v1/stop

	mu     sync.RWMutex
	report *Report
}

// Publish replaces the report served to readers.
func (s *Server) Publish(r Report) {
	s.mu.Lock()
	s.report = &r
	s.mu.Unlock()
}

func (s *Server) latest() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	tradeLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/trades", RateLimitMiddleware(tradeLimiter, s.handleTrades))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/stop", s.adminOnly(s.handleStop))

	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require a POST with bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// withReport loads the latest report or answers 503 before the first round.
func (s *Server) withReport(w http.ResponseWriter) (*Report, bool) {
	rep := s.latest()
	if rep == nil {
		http.Error(w, "no round published yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return rep, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.withReport(w)
	if !ok {
		return
	}
	writeJSON(w, rep.Status)
}

// handleHistory returns every metric, or one with ?metric=price.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.withReport(w)
	if !ok {
		return
	}
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeJSON(w, rep.Snapshot.History)
		return
	}

	var all map[string]map[string][]float64
	raw, err := json.Marshal(rep.Snapshot.History)
	if err == nil {
		err = json.Unmarshal(raw, &all)
	}
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	series, found := all[metric]
	if !found {
		http.Error(w, "unknown metric", http.StatusNotFound)
		return
	}
	writeJSON(w, series)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.withReport(w)
	if !ok {
		return
	}
	class := r.URL.Query().Get("class")

	type agentEntry struct {
		ID        string  `json:"id"`
		ClassName string  `json:"class_name"`
		Money     float64 `json:"money"`
	}
	agents := make([]agentEntry, 0, len(rep.Snapshot.Agents))
	for _, a := range rep.Snapshot.Agents {
		if class != "" && a.ClassName != class {
			continue
		}
		agents = append(agents, agentEntry{ID: a.ID, ClassName: a.ClassName, Money: a.Money})
	}
	writeJSON(w, agents)
}

// handleAgentDetail returns one agent with its inventory (GET /api/v1/agent/:id).
func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.withReport(w)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	for _, a := range rep.Snapshot.Agents {
		if a.ID == id {
			writeJSON(w, a)
			return
		}
	}
	http.Error(w, "agent not found", http.StatusNotFound)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.Trades == nil {
		http.Error(w, "trade journal disabled (no database)", http.StatusNotFound)
		return
	}
	rep, ok := s.withReport(w)
	if !ok {
		return
	}

	limit := defaultTrades
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTradesLimit)
	}

	trades, err := s.Trades.RecentTrades(rep.Status.Market, limit)
	if err != nil {
		slog.Error("load trades", "error", err)
		http.Error(w, "trades unavailable", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []market.Trade{}
	}
	writeJSON(w, trades)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.OnStop != nil {
		s.OnStop()
	}
	slog.Info("stop requested via API")
	writeJSON(w, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
