package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/talgya/bazaarbot/internal/archetype"
	"github.com/talgya/bazaarbot/internal/config"
	"github.com/talgya/bazaarbot/internal/market"
	"github.com/talgya/bazaarbot/internal/persistence"
)

// buildMarket creates the market from cfg, restoring agents, history and
// round from db when it holds a saved state.
func buildMarket(cfg config.Config, db *persistence.DB) (*market.Market, error) {
	var (
		startRound uint64
		resumed    bool
	)
	if db != nil {
		var err error
		if startRound, resumed, err = db.LoadRound(cfg.Market); err != nil {
			return nil, fmt.Errorf("load round: %w", err)
		}
	}

	// Resumed runs draw from a stream keyed by the restart round.
	rng := rand.New(rand.NewSource(cfg.Seed ^ int64(startRound)))

	var weather *archetype.Weather
	if cfg.Weather {
		weather = archetype.NewWeather(cfg.Seed)
	}
	factory := archetype.NewFactory(rng, archetype.FactoryConfig{
		Money:     cfg.StartingMoney,
		Capacity:  cfg.InventoryCapacity,
		StartCost: cfg.StartingPrice,
		Weather:   weather,
	})

	var traders []market.Trader
	if resumed {
		stored, err := db.LoadAgents(cfg.Market)
		if err != nil {
			return nil, err
		}
		for _, s := range stored {
			a, err := factory.Restore(s)
			if err != nil {
				return nil, err
			}
			traders = append(traders, a)
		}
		slog.Info("market state restored", "market", cfg.Market, "agents", len(traders), "round", startRound)
	} else {
		var err error
		if traders, err = factory.Population(cfg.Farmers, cfg.Woodcutters); err != nil {
			return nil, err
		}
	}

	resolver, err := market.NewDefaultResolver(rng)
	if err != nil {
		return nil, err
	}
	resolver.LegacyBidAccounting = cfg.LegacyBidAccounting

	m, err := market.New(cfg.Market, market.Data{Goods: archetype.Goods(), Agents: traders}, market.Config{
		Resolver:   resolver,
		Executor:   market.NewDefaultExecutor(),
		Bankruptcy: archetype.NewReplacer(factory),
		Init:       market.InitConfig{DefaultTrade: cfg.StartingPrice},
	})
	if err != nil {
		return nil, err
	}

	if resumed {
		h, err := db.LoadHistory(cfg.Market)
		if err != nil {
			return nil, err
		}
		m.LoadHistory(h)
		m.SetRound(startRound)
	}
	return m, nil
}
