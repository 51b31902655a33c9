package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/stats"
)

// DiagnosticHint is one human-readable insight about a network's load.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a network's statistics and the ids of
// its child networks. Hints are ordered critical first, then warnings, then
// info.
func computeDiagnostics(s types.Stats, metric string, children []string) []DiagnosticHint {
	var hints []DiagnosticHint

	if s.TotalNodes == 0 {
		return []DiagnosticHint{{
			Key:    "empty_network",
			Level:  "info",
			Title:  "No nodes",
			Detail: "This network has no nodes, so there is nothing to simulate.",
		}}
	}

	if n := len(s.CriticalMetrics.Nodes); n > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "critical_nodes",
			Level: levelFor(n, s.TotalNodes),
			Title: fmt.Sprintf("%d hot node%s", n, plural(n)),
			Detail: fmt.Sprintf("%s above %.0f%% %s: %s.",
				countOf(n, s.TotalNodes, "node"), stats.CriticalThreshold, metric, strings.Join(s.CriticalMetrics.Nodes, ", ")),
			Value: floatPtr(float64(n)),
		})
	}
	if n := len(s.CriticalMetrics.Links); n > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "critical_links",
			Level: levelFor(n, s.TotalLinks),
			Title: fmt.Sprintf("%d hot link%s", n, plural(n)),
			Detail: fmt.Sprintf("%s above %.0f%% %s: %s.",
				countOf(n, s.TotalLinks, "link"), stats.CriticalThreshold, metric, strings.Join(s.CriticalMetrics.Links, ", ")),
			Value: floatPtr(float64(n)),
		})
	}

	if s.TotalLinks == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "no_links",
			Level:  "info",
			Title:  "No links",
			Detail: "Nodes in this network are not connected; link statistics are unavailable.",
		})
	}

	if s.ClusterNodes > 0 {
		hint := DiagnosticHint{
			Key:    "drill_down",
			Level:  "info",
			Title:  fmt.Sprintf("%d cluster%s", s.ClusterNodes, plural(s.ClusterNodes)),
			Detail: "Cluster nodes contain their own networks and can be opened for detail.",
		}
		if len(children) > 0 {
			hint.Detail = fmt.Sprintf("Cluster nodes contain their own networks and can be opened for detail: %s.",
				strings.Join(children, ", "))
		}
		hints = append(hints, hint)
	}

	if len(hints) == 0 || (len(s.CriticalMetrics.Nodes) == 0 && len(s.CriticalMetrics.Links) == 0) {
		hints = append(hints, DiagnosticHint{
			Key:    "nominal",
			Level:  "ok",
			Title:  "All nominal",
			Detail: fmt.Sprintf("No node or link is above %.0f%% %s.", stats.CriticalThreshold, metric),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

// levelFor escalates to critical once half or more of the entities are hot.
func levelFor(hot, total int) string {
	if total > 0 && hot*2 >= total {
		return "critical"
	}
	return "warning"
}

func countOf(n, total int, noun string) string {
	return fmt.Sprintf("%d of %d %ss are", n, total, noun)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func floatPtr(v float64) *float64 { return &v }
