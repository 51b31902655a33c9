package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AlertType is the severity of a threshold alert.
type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
)

// Alert is one threshold crossing produced by the most recent evaluation.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricState is the live telemetry attached to a node or link.
type MetricState struct {
	Current Current  `json:"current"`
	History []Sample `json:"history"`
	Alerts  []Alert  `json:"alerts"`
}

// Clone returns a deep copy of m. A nil receiver yields nil.
func (m *MetricState) Clone() *MetricState {
	if m == nil {
		return nil
	}
	out := &MetricState{Current: m.Current.Clone()}
	if m.History != nil {
		out.History = make([]Sample, len(m.History))
		copy(out.History, m.History)
	}
	if m.Alerts != nil {
		out.Alerts = make([]Alert, len(m.Alerts))
		copy(out.Alerts, m.Alerts)
	}
	return out
}

// Current holds the latest metric values of an entity.
//
// On the wire it is a flat object: every metric is a top-level numeric key
// next to "timestamp" and, for links, "capacity".
type Current struct {
	Values    map[string]float64
	Timestamp time.Time
	Capacity  *float64
}

// Value returns the current value of metric and whether it is present.
func (c Current) Value(metric string) (float64, bool) {
	v, ok := c.Values[metric]
	return v, ok
}

// Set stores v under metric, allocating the value map on first use.
func (c *Current) Set(metric string, v float64) {
	if c.Values == nil {
		c.Values = make(map[string]float64)
	}
	c.Values[metric] = v
}

// Clone returns a copy of c that shares no maps or pointers with it.
func (c Current) Clone() Current {
	out := Current{Timestamp: c.Timestamp}
	if c.Values != nil {
		out.Values = make(map[string]float64, len(c.Values))
		for k, v := range c.Values {
			out.Values[k] = v
		}
	}
	if c.Capacity != nil {
		capacity := *c.Capacity
		out.Capacity = &capacity
	}
	return out
}

func (c Current) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(c.Values)+2)
	for k, v := range c.Values {
		m[k] = v
	}
	if !c.Timestamp.IsZero() {
		m["timestamp"] = c.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if c.Capacity != nil {
		m["capacity"] = *c.Capacity
	}
	return json.Marshal(m)
}

func (c *Current) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("current metrics: %w", err)
	}
	*c = Current{}
	for k, v := range raw {
		switch k {
		case "timestamp":
			ts, err := parseTimestamp(v)
			if err != nil {
				return fmt.Errorf("current metrics: %w", err)
			}
			c.Timestamp = ts
		case "capacity":
			var capacity float64
			if err := json.Unmarshal(v, &capacity); err != nil {
				continue
			}
			c.Capacity = &capacity
		default:
			var f float64
			// Non-numeric keys (null, strings) are tolerated and dropped.
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			c.Set(k, f)
		}
	}
	return nil
}

// Sample is one point of an entity's history, encoded as
// {"timestamp": ..., "<metric>": value}.
type Sample struct {
	Timestamp time.Time
	Metric    string
	Value     float64
}

func (s Sample) MarshalJSON() ([]byte, error) {
	key := s.Metric
	if key == "" {
		key = "value"
	}
	return json.Marshal(map[string]interface{}{
		"timestamp": s.Timestamp.UTC().Format(time.RFC3339Nano),
		key:         s.Value,
	})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	*s = Sample{}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		if k == "timestamp" {
			ts, err := parseTimestamp(v)
			if err != nil {
				return fmt.Errorf("sample: %w", err)
			}
			s.Timestamp = ts
			continue
		}
		if s.Metric != "" {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			continue
		}
		s.Metric, s.Value = k, f
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return ts, nil
}
