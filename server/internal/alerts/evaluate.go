package alerts

import (
	"fmt"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// Default thresholds, in metric percent.
const (
	DefaultWarning  = 75.0
	DefaultCritical = 90.0
)

// Thresholds are two ascending limits; Warning must be below Critical.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns {Warning: 75, Critical: 90}.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: DefaultWarning, Critical: DefaultCritical}
}

// Evaluate classifies value for metric and returns zero or one alert stamped
// with now. Critical takes precedence: a value at or above th.Critical yields
// only the critical alert.
func Evaluate(metric string, value float64, th Thresholds, now time.Time) []types.Alert {
	switch {
	case value >= th.Critical:
		return []types.Alert{{
			Type:      types.AlertCritical,
			Message:   fmt.Sprintf("%s critically high: %.1f%%", metric, value),
			Timestamp: now,
		}}
	case value >= th.Warning:
		return []types.Alert{{
			Type:      types.AlertWarning,
			Message:   fmt.Sprintf("%s warning: %.1f%%", metric, value),
			Timestamp: now,
		}}
	default:
		return []types.Alert{}
	}
}
