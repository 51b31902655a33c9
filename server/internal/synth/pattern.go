package synth

import (
	"math"
	"math/rand"
)

// DefaultBaseValue is the baseline used when an entity has no prior value.
const DefaultBaseValue = 50.0

// Ranges the random pattern parameters are drawn from, [min, min+span).
const (
	frequencyMin       = 0.1
	frequencySpan      = 0.2
	amplitudeMin       = 5.0
	amplitudeSpan      = 15.0
	noiseAmplitudeMax  = 5.0
	noiseFrequencyMin  = 0.5
	noiseFrequencySpan = 1.0
	trendStrengthMax   = 0.1
)

// Noise is the faster, smaller secondary wave.
type Noise struct {
	Amplitude float64 `json:"amplitude"`
	Frequency float64 `json:"frequency"`
}

// Trend is a slow linear drift, applied only when enabled by the generator.
type Trend struct {
	Direction float64 `json:"direction"` // +1 or -1
	Strength  float64 `json:"strength"`  // value units per second
}

// Pattern is the immutable set of wave parameters that makes one entity's
// signal distinguishable from the others.
type Pattern struct {
	Frequency float64 `json:"frequency"` // Hz
	Phase     float64 `json:"phase"`     // radians
	BaseValue float64 `json:"baseValue"`
	Amplitude float64 `json:"amplitude"`
	Noise     Noise   `json:"noise"`
	Trend     Trend   `json:"trend"`
}

// NewPattern draws a fresh pattern from rng. initial seeds BaseValue; nil or
// a non-finite value falls back to DefaultBaseValue.
func NewPattern(rng *rand.Rand, initial *float64) *Pattern {
	base := DefaultBaseValue
	if initial != nil && !math.IsNaN(*initial) && !math.IsInf(*initial, 0) {
		base = *initial
	}

	direction := -1.0
	if rng.Float64() > 0.5 {
		direction = 1
	}

	return &Pattern{
		Frequency: frequencyMin + rng.Float64()*frequencySpan,
		Phase:     rng.Float64() * 2 * math.Pi,
		BaseValue: base,
		Amplitude: amplitudeMin + rng.Float64()*amplitudeSpan,
		Noise: Noise{
			Amplitude: rng.Float64() * noiseAmplitudeMax,
			Frequency: noiseFrequencyMin + rng.Float64()*noiseFrequencySpan,
		},
		Trend: Trend{
			Direction: direction,
			Strength:  rng.Float64() * trendStrengthMax,
		},
	}
}
