// Package config holds the simulation settings, loaded from a JSON file and
// checked with struct-tag validation.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// Config describes one simulation run.
type Config struct {
	Market              string  `json:"market" validate:"required"`                       // Market name, also the storage key
	Seed                int64   `json:"seed"`                                             // Seed of the shared random source
	Rounds              int     `json:"rounds" validate:"gte=0"`                          // Rounds to run; 0 runs until interrupted
	Farmers             int     `json:"farmers" validate:"gte=0"`                         // Starting farmers
	Woodcutters         int     `json:"woodcutters" validate:"gte=0"`                     // Starting woodcutters
	StartingMoney       float64 `json:"starting_money" validate:"gt=0"`                   // Cash each new agent starts with
	InventoryCapacity   float64 `json:"inventory_capacity" validate:"gt=0"`               // Storage space per agent
	StartingPrice       float64 `json:"starting_price" validate:"gt=0"`                   // Seed price of every commodity
	LegacyBidAccounting bool    `json:"legacy_bid_accounting"`                            // Grow bids on fills like the classic resolver
	Weather             bool    `json:"weather"`                                          // Modulate production with simplex weather
	DBPath              string  `json:"db_path"`                                          // SQLite file; empty disables persistence
	CheckpointEvery     uint64  `json:"checkpoint_every"`                                 // Rounds between saves
	APIPort             int     `json:"api_port" validate:"gte=0,lte=65535"`              // HTTP API port; 0 disables it
	LogFormat           string  `json:"log_format" validate:"oneof=auto text json"`       // Log handler
	LogLevel            string  `json:"log_level" validate:"oneof=debug info warn error"` // Minimum log level
}

// Default returns a five-farmer, five-woodcutter market.
func Default() Config {
	return Config{
		Market:            "bazaar",
		Seed:              42,
		Rounds:            100,
		Farmers:           5,
		Woodcutters:       5,
		StartingMoney:     100,
		InventoryCapacity: 20,
		StartingPrice:     1,
		CheckpointEvery:   10,
		LogFormat:         "auto",
		LogLevel:          "info",
	}
}

// LoadFile reads a JSON config from path over the defaults, so a file only
// needs the fields it changes. The result is not validated; callers apply
// their overrides first and then call Validate.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Farmers+c.Woodcutters == 0 {
		return fmt.Errorf("invalid config: no agents")
	}
	return nil
}
