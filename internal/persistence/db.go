// Package persistence provides SQLite-based market state storage.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/talgya/bazaarbot/internal/economy"
	"github.com/talgya/bazaarbot/internal/history"
	"github.com/talgya/bazaarbot/internal/market"
)

// DB wraps a SQLite connection for market state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_subjects (
		market TEXT NOT NULL,
		metric TEXT NOT NULL,
		pos INTEGER NOT NULL,
		subject TEXT NOT NULL,
		PRIMARY KEY (market, metric, subject)
	);

	CREATE TABLE IF NOT EXISTS history (
		market TEXT NOT NULL,
		metric TEXT NOT NULL,
		subject TEXT NOT NULL,
		seq INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (market, metric, subject, seq)
	);

	CREATE TABLE IF NOT EXISTS agents (
		market TEXT NOT NULL,
		idx INTEGER NOT NULL,
		id TEXT NOT NULL,
		class TEXT NOT NULL,
		money TEXT NOT NULL,
		capacity REAL NOT NULL,
		inventory_json TEXT NOT NULL,
		PRIMARY KEY (market, idx)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		market TEXT NOT NULL,
		round INTEGER NOT NULL,
		commodity TEXT NOT NULL,
		buyer TEXT NOT NULL,
		seller TEXT NOT NULL,
		units REAL NOT NULL,
		price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_round ON trades(market, round);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSnapshot writes a market's history, agents and round (full replace)
// in one transaction.
func (db *DB) SaveSnapshot(snap market.Snapshot) error {
	slog.Info("saving market state", "market", snap.Market, "round", snap.Round, "agents", len(snap.Agents))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveHistory(tx, snap.Market, snap.History); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := saveAgents(tx, snap.Market, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO market_meta (key, value) VALUES (?, ?)",
		roundKey(snap.Market), strconv.FormatUint(snap.Round, 10),
	); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	return tx.Commit()
}

func saveHistory(tx *sqlx.Tx, name string, h *history.History) error {
	if _, err := tx.Exec("DELETE FROM history_subjects WHERE market = ?", name); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM history WHERE market = ?", name); err != nil {
		return err
	}
	if h == nil {
		return nil
	}

	stmt, err := tx.Preparex("INSERT INTO history (market, metric, subject, seq, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, metric := range history.Metrics {
		log := h.Log(metric)
		for pos, subject := range log.Subjects() {
			if _, err := tx.Exec(
				"INSERT INTO history_subjects (market, metric, pos, subject) VALUES (?, ?, ?, ?)",
				name, string(metric), pos, subject,
			); err != nil {
				return err
			}
			for seq, v := range log.Values(subject) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%s %s[%d]: non-numeric value %v", metric, subject, seq, v)
				}
				if _, err := stmt.Exec(name, string(metric), subject, seq, v); err != nil {
					return fmt.Errorf("insert %s %s: %w", metric, subject, err)
				}
			}
		}
	}
	return nil
}

func saveAgents(tx *sqlx.Tx, name string, agents []market.AgentSnapshot) error {
	if _, err := tx.Exec("DELETE FROM agents WHERE market = ?", name); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(market, idx, id, class, money, capacity, inventory_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, a := range agents {
		if math.IsNaN(a.Money) || math.IsInf(a.Money, 0) {
			return fmt.Errorf("agent %s: non-numeric cash %v", a.ID, a.Money)
		}
		invJSON, err := json.Marshal(a.Inventory)
		if err != nil {
			return fmt.Errorf("encode inventory of %s: %w", a.ID, err)
		}
		if _, err := stmt.Exec(
			name, i, a.ID, a.ClassName,
			decimal.NewFromFloat(a.Money).String(), a.Capacity,
			string(invJSON),
		); err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// SaveTrades appends a round's trades to the trade journal.
func (db *DB) SaveTrades(name string, trades []market.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range trades {
		_, err := tx.Exec(
			`INSERT INTO trades (market, round, commodity, buyer, seller, units, price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			name, t.Round, t.Commodity, t.Buyer, t.Seller, t.Units, t.Price,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type tradeRow struct {
	Round     int64   `db:"round"`
	Commodity string  `db:"commodity"`
	Buyer     string  `db:"buyer"`
	Seller    string  `db:"seller"`
	Units     float64 `db:"units"`
	Price     float64 `db:"price"`
}

// RecentTrades returns up to limit of a market's most recent trades, oldest first.
func (db *DB) RecentTrades(name string, limit int) ([]market.Trade, error) {
	var rows []tradeRow
	err := db.conn.Select(&rows,
		`SELECT round, commodity, buyer, seller, units, price FROM
			(SELECT * FROM trades WHERE market = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id`,
		name, limit,
	)
	if err != nil {
		return nil, err
	}
	trades := make([]market.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, market.Trade{
			Round:     uint64(r.Round),
			Commodity: r.Commodity,
			Buyer:     r.Buyer,
			Seller:    r.Seller,
			Units:     r.Units,
			Price:     r.Price,
		})
	}
	return trades, nil
}

type subjectRow struct {
	Metric  string `db:"metric"`
	Subject string `db:"subject"`
}

type valueRow struct {
	Metric  string  `db:"metric"`
	Subject string  `db:"subject"`
	Value   float64 `db:"value"`
}

// LoadHistory rebuilds a market's history. Subjects come back in
// registration order.
func (db *DB) LoadHistory(name string) (*history.History, error) {
	var subjects []subjectRow
	if err := db.conn.Select(&subjects,
		"SELECT metric, subject FROM history_subjects WHERE market = ? ORDER BY metric, pos",
		name,
	); err != nil {
		return nil, fmt.Errorf("load history subjects: %w", err)
	}

	h := history.New()
	for _, s := range subjects {
		log := h.Log(history.Metric(s.Metric))
		if log == nil {
			return nil, fmt.Errorf("load history: unknown metric %q", s.Metric)
		}
		log.Register(s.Subject)
	}

	var values []valueRow
	if err := db.conn.Select(&values,
		"SELECT metric, subject, value FROM history WHERE market = ? ORDER BY metric, subject, seq",
		name,
	); err != nil {
		return nil, fmt.Errorf("load history values: %w", err)
	}
	for _, v := range values {
		if log := h.Log(history.Metric(v.Metric)); log != nil {
			log.Add(v.Subject, v.Value)
		}
	}
	return h, nil
}

type agentRow struct {
	ID            string  `db:"id"`
	Class         string  `db:"class"`
	Money         string  `db:"money"`
	Capacity      float64 `db:"capacity"`
	InventoryJSON string  `db:"inventory_json"`
}

// LoadAgents returns a market's stored agents in their saved order.
func (db *DB) LoadAgents(name string) ([]market.AgentSnapshot, error) {
	var rows []agentRow
	if err := db.conn.Select(&rows,
		"SELECT id, class, money, capacity, inventory_json FROM agents WHERE market = ? ORDER BY idx",
		name,
	); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	out := make([]market.AgentSnapshot, 0, len(rows))
	for _, r := range rows {
		money, err := decimal.NewFromString(r.Money)
		if err != nil {
			return nil, fmt.Errorf("agent %s money: %w", r.ID, err)
		}
		var lots []economy.Lot
		if err := json.Unmarshal([]byte(r.InventoryJSON), &lots); err != nil {
			return nil, fmt.Errorf("agent %s inventory: %w", r.ID, err)
		}
		out = append(out, market.AgentSnapshot{
			ID:        r.ID,
			ClassName: r.Class,
			Money:     money.InexactFloat64(),
			Capacity:  r.Capacity,
			Inventory: lots,
		})
	}
	return out, nil
}

// LoadRound returns the last saved round of a market and whether one exists.
func (db *DB) LoadRound(name string) (uint64, bool, error) {
	v, err := db.GetMeta(roundKey(name))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	round, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored round %q: %w", v, err)
	}
	return round, true, nil
}

// HasState reports whether a snapshot of the market has been saved.
func (db *DB) HasState(name string) (bool, error) {
	_, ok, err := db.LoadRound(name)
	return ok, err
}

// SaveMeta stores a key-value pair in market metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO market_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM market_meta WHERE key = ?", key)
	return value, err
}

func roundKey(name string) string { return "round:" + name }
