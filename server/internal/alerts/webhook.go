package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// deliver sends webhook notifications for ev to all configured targets.
// Errors are logged but do not affect the caller.
func (d *Dispatcher) deliver(ev *Event) {
	for _, wh := range d.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = d.sendSlack(url, ev)
		case "teams":
			err = d.sendTeams(url, ev)
		case "pagerduty":
			err = d.sendPagerDuty(url, wh.RoutingKey(), ev)
		case "http":
			err = d.sendHTTP(url, ev)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"entity", ev.EntityID,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"entity", ev.EntityID,
				"state", ev.State,
			)
		}
	}
}

func (d *Dispatcher) sendSlack(url string, ev *Event) error {
	st := styleOf(ev)
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*[%s]* %s %s `%s`: %s", st.label, ev.NetworkID, ev.Kind, ev.EntityID, ev.Message),
	})
	return d.post(url, body)
}

// sendTeams posts a legacy connector MessageCard with the entity as facts.
func (d *Dispatcher) sendTeams(url string, ev *Event) error {
	st := styleOf(ev)
	type fact struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": st.color,
		"summary":    fmt.Sprintf("[%s] %s/%s", st.label, ev.NetworkID, ev.EntityID),
		"sections": []map[string]interface{}{{
			"activityTitle": fmt.Sprintf("netpulse %s %s %s", ev.Kind, ev.EntityID, ev.State),
			"text":          ev.Message,
			"facts": []fact{
				{"Network", ev.NetworkID},
				{"Severity", string(ev.Severity)},
				{"Fired", ev.FiredAt.UTC().Format(time.RFC3339)},
			},
		}},
	})
	return d.post(url, body)
}

// sendPagerDuty posts a PagerDuty Events API v2 event. The dedup key is
// stable per entity, so the resolve closes the incident the trigger opened.
func (d *Dispatcher) sendPagerDuty(url, routingKey string, ev *Event) error {
	if routingKey == "" {
		return fmt.Errorf("pagerduty: routing key not set")
	}
	event := pagerDutyEvent{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		DedupKey:    "netpulse/" + ev.NetworkID + "/" + ev.Kind + "/" + ev.EntityID,
	}
	if ev.State == StateResolved {
		event.EventAction = "resolve"
	} else {
		event.Payload = &pagerDutyPayload{
			Summary:   ev.Message,
			Source:    "netpulse/" + ev.NetworkID,
			Severity:  string(ev.Severity),
			Timestamp: ev.FiredAt.UTC().Format(time.RFC3339),
			Component: ev.EntityID,
			Class:     ev.Kind,
		}
	}
	body, _ := json.Marshal(event)
	return d.post(url, body)
}

type pagerDutyEvent struct {
	RoutingKey  string            `json:"routing_key"`
	EventAction string            `json:"event_action"` // trigger | resolve
	DedupKey    string            `json:"dedup_key"`
	Payload     *pagerDutyPayload `json:"payload,omitempty"`
}

type pagerDutyPayload struct {
	Summary   string `json:"summary"`
	Source    string `json:"source"`
	Severity  string `json:"severity"` // critical | warning
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Class     string `json:"class"`
}

func (d *Dispatcher) sendHTTP(url string, ev *Event) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": ev})
	return d.post(url, body)
}

func (d *Dispatcher) post(url string, body []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

type style struct {
	label string
	color string
}

var severityStyles = map[types.AlertType]style{
	types.AlertCritical: {"CRITICAL", "D7263D"},
	types.AlertWarning:  {"WARNING", "F49D37"},
}

func styleOf(ev *Event) style {
	if ev.State == StateResolved {
		return style{"RESOLVED", "3BB273"}
	}
	if st, ok := severityStyles[ev.Severity]; ok {
		return st
	}
	return style{"INFO", "3F88C5"}
}
