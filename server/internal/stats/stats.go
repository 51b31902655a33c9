// Package stats summarises the current metric of a network snapshot.
package stats

import (
	"math"

	"github.com/netpulse/netpulse/pkg/types"
)

// CriticalThreshold is the value above which an entity is listed as critical.
// It is independent of the alert ranges.
const CriticalThreshold = 75.0

// Calculate aggregates metric over the nodes and links of n. Entities without
// a value for metric count as 0. A side with no entities reports NaN for its
// average and maximum.
func Calculate(n *types.Network, metric string) types.Stats {
	s := types.Stats{
		AvgMetric:       types.MetricPair{Nodes: math.NaN(), Links: math.NaN()},
		MaxMetric:       types.MetricPair{Nodes: math.NaN(), Links: math.NaN()},
		CriticalMetrics: types.CriticalSet{Nodes: []string{}, Links: []string{}},
	}
	if n == nil {
		return s
	}

	s.TotalNodes = len(n.Nodes)
	s.TotalLinks = len(n.Links)

	var nodeVals []float64
	for _, node := range n.Nodes {
		switch node.Type {
		case types.NodeCluster:
			s.ClusterNodes++
		case types.NodeLeaf:
			s.LeafNodes++
		}
		v := value(node.Metrics, metric)
		nodeVals = append(nodeVals, v)
		if v > CriticalThreshold {
			s.CriticalMetrics.Nodes = append(s.CriticalMetrics.Nodes, node.ID)
		}
	}

	var linkVals []float64
	for _, l := range n.Links {
		v := value(l.Metrics, metric)
		linkVals = append(linkVals, v)
		if v > CriticalThreshold {
			s.CriticalMetrics.Links = append(s.CriticalMetrics.Links, l.ID())
		}
	}

	s.AvgMetric.Nodes, s.MaxMetric.Nodes = avgMax(nodeVals)
	s.AvgMetric.Links, s.MaxMetric.Links = avgMax(linkVals)
	return s
}

func value(m *types.MetricState, metric string) float64 {
	if m == nil {
		return 0
	}
	v, _ := m.Current.Value(metric)
	return v
}

func avgMax(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	hi := math.Inf(-1)
	for _, v := range vals {
		sum += v
		if v > hi {
			hi = v
		}
	}
	return sum / float64(len(vals)), hi
}
