package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netpulse/netpulse/pkg/types"
)

// Format is the encoding of a network definition.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Legacy-format metadata defaults.
const (
	legacyUpdateInterval  = 5000 // ms
	legacyRetentionPeriod = 3600 // s
	legacyMetric          = "allocation"
)

// Decode parses a network definition. YAML is normalised to JSON first so
// both formats share the wire codecs of the types package. Documents without
// a metadata block are converted from the legacy format.
func Decode(data []byte, format Format) (*types.Network, error) {
	if format == FormatYAML {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("catalog: parse yaml: %w", err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("catalog: normalise yaml: %w", err)
		}
		data = b
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("catalog: parse json: %w", err)
	}
	if _, ok := fields["metadata"]; !ok {
		return decodeLegacy(data, time.Now().UTC())
	}

	var n types.Network
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("catalog: decode network: %w", err)
	}
	return &n, nil
}

type legacyNetwork struct {
	NetworkID     string       `json:"networkId"`
	ID            string       `json:"id"`
	ParentNetwork string       `json:"parentNetwork"`
	Nodes         []legacyNode `json:"nodes"`
	Links         []legacyLink `json:"links"`
}

type legacyNode struct {
	ID           string         `json:"id"`
	Type         types.NodeType `json:"type"`
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	ChildNetwork string         `json:"childNetwork"`
	Allocation   *float64       `json:"allocation"`
}

type legacyLink struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Allocation *float64 `json:"allocation"`
	Capacity   *float64 `json:"capacity"`
}

func decodeLegacy(data []byte, now time.Time) (*types.Network, error) {
	var old legacyNetwork
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("catalog: decode legacy network: %w", err)
	}

	id := old.NetworkID
	if id == "" {
		id = old.ID
	}
	n := &types.Network{
		Metadata: types.Metadata{
			ID:              id,
			ParentNetwork:   old.ParentNetwork,
			UpdateInterval:  legacyUpdateInterval,
			RetentionPeriod: legacyRetentionPeriod,
		},
		Nodes: make([]*types.Node, 0, len(old.Nodes)),
		Links: make([]*types.Link, 0, len(old.Links)),
	}

	for _, on := range old.Nodes {
		typ := on.Type
		if typ == "" {
			typ = types.NodeLeaf
		}
		n.Nodes = append(n.Nodes, &types.Node{
			ID:           on.ID,
			Type:         typ,
			X:            on.X,
			Y:            on.Y,
			ChildNetwork: on.ChildNetwork,
			Metrics:      legacyMetrics(on.Allocation, nil, now),
		})
	}
	for _, ol := range old.Links {
		n.Links = append(n.Links, &types.Link{
			Source:  ol.Source,
			Target:  ol.Target,
			Metrics: legacyMetrics(ol.Allocation, ol.Capacity, now),
		})
	}
	return n, nil
}

func legacyMetrics(allocation, capacity *float64, now time.Time) *types.MetricState {
	m := &types.MetricState{
		Current: types.Current{Timestamp: now, Capacity: capacity},
		History: []types.Sample{},
		Alerts:  []types.Alert{},
	}
	if allocation != nil {
		m.Current.Set(legacyMetric, *allocation)
	}
	return m
}
