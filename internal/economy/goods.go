// Package economy provides commodities and the per-agent inventory ledger.
package economy

import (
	"errors"
	"fmt"
)

var (
	// ErrNilCommodity is returned when a commodity without a name is supplied.
	ErrNilCommodity = errors.New("economy: nil commodity")
	// ErrInvalidInventoryData is returned for malformed starting inventory tables.
	ErrInvalidInventoryData = errors.New("economy: invalid inventory data")
)

// Commodity identifies a tradeable good. Two commodities are the same good
// when their names match; Space is the storage cost of one unit.
type Commodity struct {
	Name  string  `json:"name"`
	Space float64 `json:"space"`
}

// NewCommodity returns a commodity, rejecting empty names and negative space.
func NewCommodity(name string, space float64) (Commodity, error) {
	if name == "" {
		return Commodity{}, ErrNilCommodity
	}
	if space < 0 {
		return Commodity{}, fmt.Errorf("commodity %q: negative unit space %v: %w", name, space, ErrInvalidInventoryData)
	}
	return Commodity{Name: name, Space: space}, nil
}

// MustCommodity is NewCommodity for package-level declarations.
func MustCommodity(name string, space float64) Commodity {
	c, err := NewCommodity(name, space)
	if err != nil {
		panic(err)
	}
	return c
}

// Money is the pseudo-commodity agents use to move cash through the
// inventory-shaped APIs (consume, change).
var Money = Commodity{Name: "money"}

// IsNil reports whether c is the zero commodity.
func (c Commodity) IsNil() bool { return c.Name == "" }

// Is reports whether c and other name the same good.
func (c Commodity) Is(other Commodity) bool { return c.Name == other.Name }

func (c Commodity) String() string { return c.Name }
