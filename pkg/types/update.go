package types

import (
	"encoding/json"
	"math"
	"time"
)

// Update is the diff produced by one tick of a network.
type Update struct {
	Timestamp time.Time `json:"timestamp"`
	Changes   Changes   `json:"changes"`
}

// Changes maps entity ids (node ids, "source->target" link ids) to their
// new metric state.
type Changes struct {
	Nodes map[string]EntityChange `json:"nodes"`
	Links map[string]EntityChange `json:"links"`
}

// EntityChange is the per-entity record of an Update.
type EntityChange struct {
	Metrics MetricState `json:"metrics"`
}

// AlertCount returns how many alerts of type t the update carries.
func (u *Update) AlertCount(t AlertType) int {
	var n int
	for _, c := range u.Changes.Nodes {
		n += countAlerts(c.Metrics.Alerts, t)
	}
	for _, c := range u.Changes.Links {
		n += countAlerts(c.Metrics.Alerts, t)
	}
	return n
}

func countAlerts(alerts []Alert, t AlertType) int {
	var n int
	for _, a := range alerts {
		if a.Type == t {
			n++
		}
	}
	return n
}

// Stats summarises the current metric of one network snapshot.
type Stats struct {
	TotalNodes      int         `json:"totalNodes"`
	ClusterNodes    int         `json:"clusterNodes"`
	LeafNodes       int         `json:"leafNodes"`
	TotalLinks      int         `json:"totalLinks"`
	AvgMetric       MetricPair  `json:"avgMetric"`
	MaxMetric       MetricPair  `json:"maxMetric"`
	CriticalMetrics CriticalSet `json:"criticalMetrics"`
}

// MetricPair holds one aggregate for nodes and links. Either side is NaN
// when the network has no entities of that kind.
type MetricPair struct {
	Nodes float64
	Links float64
}

// MarshalJSON encodes NaN as null, which encoding/json cannot do itself.
func (p MetricPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nodes *float64 `json:"nodes"`
		Links *float64 `json:"links"`
	}{finite(p.Nodes), finite(p.Links)})
}

func (p *MetricPair) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nodes *float64 `json:"nodes"`
		Links *float64 `json:"links"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Nodes, p.Links = math.NaN(), math.NaN()
	if raw.Nodes != nil {
		p.Nodes = *raw.Nodes
	}
	if raw.Links != nil {
		p.Links = *raw.Links
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// CriticalSet lists the entities above the aggregator's critical threshold.
type CriticalSet struct {
	Nodes []string `json:"nodes"`
	Links []string `json:"links"`
}
