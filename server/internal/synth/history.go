package synth

import (
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// SeedHistory backfills length samples spaced interval apart, the last one
// stamped at now. Sample i is synthesized at t = -(length-1-i)·interval, so
// the newest seeded sample is the signal at t = 0 and live ticks continue the
// same curve.
func SeedHistory(p *Pattern, metric string, length int, interval time.Duration, now time.Time, withTrend bool) []types.Sample {
	if length <= 0 {
		return []types.Sample{}
	}
	out := make([]types.Sample, 0, length)
	for i := length - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * interval)
		out = append(out, types.Sample{
			Timestamp: ts,
			Metric:    metric,
			Value:     p.Value(Elapsed(now, ts), withTrend),
		})
	}
	return out
}

// AppendSample pushes s onto buf, evicting from the front while buf is at
// capacity. Index 0 stays the oldest sample. A sample older than the current
// newest is re-stamped with the newest timestamp so ordering never regresses.
func AppendSample(buf []types.Sample, s types.Sample, capacity int) []types.Sample {
	if capacity < 1 {
		capacity = 1
	}
	if n := len(buf); n > 0 && s.Timestamp.Before(buf[n-1].Timestamp) {
		s.Timestamp = buf[n-1].Timestamp
	}
	if len(buf) >= capacity {
		drop := len(buf) - capacity + 1
		buf = buf[:copy(buf, buf[drop:])]
	}
	return append(buf, s)
}
