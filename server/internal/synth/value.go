package synth

import (
	"math"
	"time"
)

// Bounds of every synthesized value.
const (
	MinValue = 0.0
	MaxValue = 100.0
)

// Value computes the pattern's signal at t seconds after the network start.
// The result is always within [MinValue, MaxValue]; out-of-range raw values
// saturate rather than wrap.
//
//	value = base
//	      + amplitude * sin(2π·frequency·t + phase)
//	      + noise.amplitude * sin(2π·noise.frequency·t)
//	      [+ trend.direction * trend.strength * t]
func (p *Pattern) Value(t float64, withTrend bool) float64 {
	main := p.Amplitude * math.Sin(2*math.Pi*p.Frequency*t+p.Phase)
	noise := p.Noise.Amplitude * math.Sin(2*math.Pi*p.Noise.Frequency*t)

	v := p.BaseValue + main + noise
	if withTrend {
		v += p.Trend.Direction * p.Trend.Strength * t
	}
	return clamp(v)
}

// Elapsed returns the seconds between start and now, negative when now
// precedes start.
func Elapsed(start, now time.Time) float64 {
	return now.Sub(start).Seconds()
}

// clamp saturates v into [MinValue, MaxValue]. NaN maps to DefaultBaseValue.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultBaseValue
	case v < MinValue:
		return MinValue
	case v > MaxValue:
		return MaxValue
	default:
		return v
	}
}
