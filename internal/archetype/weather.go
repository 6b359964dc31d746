// Harvest weather using layered simplex noise.
// Scales production chances per round and per commodity.
package archetype

import (
	"hash/fnv"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/bazaarbot/internal/economy"
)

// Weather samples layered simplex noise along the round axis, one lane per
// commodity, so good and bad harvests come in streaks.
type Weather struct {
	noise     opensimplex.Noise
	octaves   int
	frequency float64
}

// NewWeather creates a yield field. Equal seeds give equal weather.
func NewWeather(seed int64) *Weather {
	return &Weather{
		noise:     opensimplex.NewNormalized(seed),
		octaves:   3,
		frequency: 0.08,
	}
}

// Yield returns a production multiplier in [0,1] for c in the given round.
// A nil Weather always yields 1.
func (w *Weather) Yield(round uint64, c economy.Commodity) float64 {
	if w == nil {
		return 1.0
	}
	return octaveNoise(w.noise, float64(round), lane(c), w.octaves, w.frequency, 0.5)
}

// lane spreads commodities apart on the noise's second axis.
func lane(c economy.Commodity) float64 {
	h := fnv.New32a()
	h.Write([]byte(c.Name))
	return float64(h.Sum32()%1024) * 7.3
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
