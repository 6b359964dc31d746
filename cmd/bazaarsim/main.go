// Command bazaarsim runs a double-auction commodity market of farmers and
// woodcutters, optionally persisting it to SQLite between runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-isatty"

	"github.com/talgya/bazaarbot/internal/api"
	"github.com/talgya/bazaarbot/internal/config"
	"github.com/talgya/bazaarbot/internal/engine"
	"github.com/talgya/bazaarbot/internal/persistence"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("bazaarsim failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("bazaarsim", flag.ContinueOnError)
	configPath := fs.String("config", "", "JSON config file (defaults apply when empty)")
	rounds := fs.Int("rounds", 0, "rounds to run, overriding the config")
	seed := fs.Int64("seed", 0, "random seed, overriding the config")
	dbPath := fs.String("db", "", "SQLite file to resume from and checkpoint to")
	asJSON := fs.Bool("json", false, "print the final market snapshot as JSON")
	legacy := fs.Bool("legacy-bids", false, "grow bids on every fill like the classic resolver")
	weather := fs.Bool("weather", false, "modulate production with simplex weather")
	apiPort := fs.Int("api-port", 0, "serve the HTTP API on this port (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rounds":
			cfg.Rounds = *rounds
		case "seed":
			cfg.Seed = *seed
		case "db":
			cfg.DBPath = *dbPath
		case "legacy-bids":
			cfg.LegacyBidAccounting = *legacy
		case "weather":
			cfg.Weather = *weather
		case "api-port":
			cfg.APIPort = *apiPort
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel))

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.DBPath != "" {
		var err error
		if db, err = persistence.Open(cfg.DBPath); err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath)
	}

	// ── Market ────────────────────────────────────────────────────────
	m, err := buildMarket(cfg, db)
	if err != nil {
		return err
	}
	slog.Info("market ready",
		"market", m.Name(),
		"agents", len(m.Agents()),
		"round", m.Round(),
		"seed", cfg.Seed,
		"legacy_bids", cfg.LegacyBidAccounting,
		"weather", cfg.Weather,
	)

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Round = m.Round()

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if cfg.APIPort > 0 {
		adminKey := os.Getenv("BAZAARSIM_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("BAZAARSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{Port: cfg.APIPort, AdminKey: adminKey, OnStop: eng.Stop}
		if db != nil {
			apiServer.Trades = db
		}
		apiServer.Publish(api.NewReport(m))
		apiServer.Start()
	}

	eng.OnRound = func(uint64) error {
		if err := m.Step(); err != nil {
			return err
		}
		if apiServer != nil {
			apiServer.Publish(api.NewReport(m))
		}
		if db != nil {
			if err := db.SaveTrades(m.Name(), m.LastTrades()); err != nil {
				return fmt.Errorf("save trades: %w", err)
			}
		}
		return nil
	}
	if db != nil {
		eng.CheckpointEvery = cfg.CheckpointEvery
		eng.OnCheckpoint = func(uint64) error { return db.SaveSnapshot(m.Snapshot()) }
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := eng.Run(ctx, cfg.Rounds); err != nil {
		return err
	}

	if *asJSON {
		out, err := json.MarshalIndent(m.Snapshot(), "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		_, err = fmt.Fprintln(stdout, string(out))
		return err
	}
	return writeSummary(stdout, m)
}

// newLogger picks a text handler on terminals and JSON elsewhere unless
// format forces one.
func newLogger(w *os.File, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
