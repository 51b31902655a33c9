package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/config"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// --- Evaluate ---

func TestEvaluate_Levels(t *testing.T) {
	th := DefaultThresholds()

	if got := Evaluate("allocation", 60, th, t0); len(got) != 0 {
		t.Errorf("60: got %d alerts, want 0", len(got))
	}

	got := Evaluate("allocation", 80, th, t0)
	if len(got) != 1 || got[0].Type != types.AlertWarning {
		t.Fatalf("80: got %+v, want one warning", got)
	}
	if got[0].Message != "allocation warning: 80.0%" {
		t.Errorf("80 message: got %q", got[0].Message)
	}
	if !got[0].Timestamp.Equal(t0) {
		t.Errorf("80 timestamp: got %v, want %v", got[0].Timestamp, t0)
	}

	got = Evaluate("allocation", 95, th, t0)
	if len(got) != 1 || got[0].Type != types.AlertCritical {
		t.Fatalf("95: got %+v, want one critical", got)
	}
	if got[0].Message != "allocation critically high: 95.0%" {
		t.Errorf("95 message: got %q", got[0].Message)
	}
}

func TestEvaluate_BoundariesAreInclusive(t *testing.T) {
	th := Thresholds{Warning: 75, Critical: 90}
	cases := []struct {
		value float64
		want  types.AlertType
	}{
		{74.99, ""},
		{75, types.AlertWarning},
		{89.99, types.AlertWarning},
		{90, types.AlertCritical},
		{100, types.AlertCritical},
	}
	for _, tc := range cases {
		got := Evaluate("cpu", tc.value, th, t0)
		if tc.want == "" {
			if len(got) != 0 {
				t.Errorf("%v: got %+v, want none", tc.value, got)
			}
			continue
		}
		if len(got) != 1 || got[0].Type != tc.want {
			t.Errorf("%v: got %+v, want one %s", tc.value, got, tc.want)
		}
	}
}

func TestEvaluate_NeverNil(t *testing.T) {
	if got := Evaluate("allocation", 10, DefaultThresholds(), t0); got == nil {
		t.Error("Evaluate returned nil; JSON would encode null instead of []")
	}
}

// --- Dispatcher ---

func update(node string, alerts ...types.Alert) *types.Update {
	return &types.Update{
		Timestamp: t0,
		Changes: types.Changes{
			Nodes: map[string]types.EntityChange{node: {Metrics: types.MetricState{Alerts: alerts}}},
			Links: map[string]types.EntityChange{},
		},
	}
}

func warning() types.Alert  { return types.Alert{Type: types.AlertWarning, Message: "allocation warning: 80.0%"} }
func critical() types.Alert { return types.Alert{Type: types.AlertCritical, Message: "allocation critically high: 95.0%"} }

func newTestDispatcher(t *testing.T, cfg config.AlertsConfig) (*Dispatcher, *time.Time) {
	t.Helper()
	d := NewDispatcher(cfg)
	now := t0
	d.now = func() time.Time { return now }
	return d, &now
}

func TestDispatcher_FireEscalateResolve(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{})
	ctx := context.Background()

	_ = d.Publish(ctx, "root", update("n1", warning()))
	active := d.Active()
	if len(active) != 1 || active[0].Severity != types.AlertWarning || active[0].State != StateFiring {
		t.Fatalf("after warning: got %+v", active)
	}
	firstID := active[0].ID

	// Same severity again: still one event, unchanged.
	*now = now.Add(time.Minute)
	_ = d.Publish(ctx, "root", update("n1", warning()))
	if active := d.Active(); len(active) != 1 || active[0].ID != firstID {
		t.Fatalf("repeat warning: got %+v", active)
	}

	// Escalation bypasses the cooldown.
	*now = now.Add(time.Minute)
	_ = d.Publish(ctx, "root", update("n1", critical()))
	active = d.Active()
	if len(active) != 1 || active[0].Severity != types.AlertCritical {
		t.Fatalf("after escalation: got %+v", active)
	}

	*now = now.Add(time.Minute)
	_ = d.Publish(ctx, "root", update("n1"))
	active = d.Active()
	if len(active) != 1 || active[0].State != StateResolved || active[0].ResolvedAt == nil {
		t.Fatalf("after resolve: got %+v", active)
	}
}

func TestDispatcher_CooldownSuppressesRefire(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{Cooldown: 10 * time.Minute})
	ctx := context.Background()

	_ = d.Publish(ctx, "root", update("n1", warning()))
	_ = d.Publish(ctx, "root", update("n1"))

	*now = now.Add(5 * time.Minute)
	_ = d.Publish(ctx, "root", update("n1", warning()))
	for _, ev := range d.Active() {
		if ev.State == StateFiring {
			t.Fatalf("re-fire inside cooldown: %+v", ev)
		}
	}

	*now = now.Add(10 * time.Minute)
	_ = d.Publish(ctx, "root", update("n1", warning()))
	var firing int
	for _, ev := range d.Active() {
		if ev.State == StateFiring {
			firing++
		}
	}
	if firing != 1 {
		t.Errorf("after cooldown: got %d firing, want 1", firing)
	}
}

func TestDispatcher_ResolvedAgeOut(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{})
	ctx := context.Background()

	_ = d.Publish(ctx, "root", update("n1", critical()))
	_ = d.Publish(ctx, "root", update("n1"))
	*now = now.Add(2 * time.Hour)

	if active := d.Active(); len(active) != 0 {
		t.Errorf("resolved event older than an hour still listed: %+v", active)
	}
}

func TestDispatcher_DeliversHTTPWebhook(t *testing.T) {
	received := make(chan Event, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Alert Event `json:"alert"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- body.Alert
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Setenv("TEST_ALERT_HOOK", srv.URL)
	d, _ := newTestDispatcher(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{
			{Type: "http", URLEnv: "TEST_ALERT_HOOK"},
			{Type: "slack", URLEnv: "UNSET_HOOK_VAR"},
		},
	})

	_ = d.Publish(context.Background(), "east", &types.Update{
		Timestamp: t0,
		Changes: types.Changes{
			Nodes: map[string]types.EntityChange{},
			Links: map[string]types.EntityChange{
				"a->b": {Metrics: types.MetricState{Alerts: []types.Alert{critical()}}},
			},
		},
	})
	d.Wait()

	select {
	case ev := <-received:
		if ev.NetworkID != "east" || ev.EntityID != "a->b" || ev.Kind != "link" {
			t.Errorf("event identity: got %+v", ev)
		}
		if ev.Severity != types.AlertCritical || ev.State != StateFiring {
			t.Errorf("event state: got %+v", ev)
		}
	default:
		t.Fatal("webhook not delivered")
	}
}

func TestDispatcher_WebhookFailureIsNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("TEST_FAILING_HOOK", srv.URL)
	d, _ := newTestDispatcher(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{{Type: "teams", URLEnv: "TEST_FAILING_HOOK"}},
	})
	if err := d.Publish(context.Background(), "root", update("n1", critical())); err != nil {
		t.Errorf("Publish: got %v, want nil", err)
	}
	d.Wait()
}

func states(d *Dispatcher) map[string]string {
	out := make(map[string]string)
	for _, ev := range d.Active() {
		out[ev.NetworkID+"/"+ev.EntityID] = ev.State
	}
	return out
}

func TestDispatcher_ResolvesEntityMissingFromDiff(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{})
	ctx := context.Background()

	_ = d.Publish(ctx, "child", update("x", critical()))
	_ = d.Publish(ctx, "root", update("x", critical()))

	// After a reset the network no longer contains x.
	*now = now.Add(5 * time.Minute)
	_ = d.Publish(ctx, "child", update("y"))

	got := states(d)
	if got["child/x"] != StateResolved {
		t.Errorf("child/x: got %q, want resolved", got["child/x"])
	}
	if got["root/x"] != StateFiring {
		t.Errorf("root/x: got %q, want firing (other network untouched)", got["root/x"])
	}
}

func TestDispatcher_ForgetResolvesAndClearsCooldown(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{Cooldown: time.Hour})
	ctx := context.Background()

	_ = d.Publish(ctx, "child", update("x", critical()))
	_ = d.Publish(ctx, "root", update("z", warning()))

	*now = now.Add(time.Minute)
	d.Forget("child")

	got := states(d)
	if got["child/x"] != StateResolved || got["root/z"] != StateFiring {
		t.Fatalf("after Forget: got %v", got)
	}
	for k := range d.lastFire {
		if k.network == "child" {
			t.Errorf("cooldown entry for forgotten network kept: %+v", k)
		}
	}

	// A network re-registered under the same id starts without cooldown.
	*now = now.Add(time.Minute)
	_ = d.Publish(ctx, "child", update("x", critical()))
	if got := states(d); got["child/x"] != StateFiring {
		t.Errorf("re-fire after Forget: got %q, want firing", got["child/x"])
	}
}

func TestDispatcher_PrunesExpiredCooldowns(t *testing.T) {
	d, now := newTestDispatcher(t, config.AlertsConfig{Cooldown: 10 * time.Minute})
	ctx := context.Background()

	_ = d.Publish(ctx, "root", update("n1", warning()))
	_ = d.Publish(ctx, "root", update("n1"))
	if len(d.lastFire) != 1 {
		t.Fatalf("lastFire: got %d entries, want 1", len(d.lastFire))
	}

	*now = now.Add(30 * time.Minute)
	_ = d.Publish(ctx, "root", update("n2"))
	if len(d.lastFire) != 0 {
		t.Errorf("lastFire: got %d entries after cooldown expired, want 0", len(d.lastFire))
	}
}

func TestDispatcher_PagerDutyTriggerAndResolve(t *testing.T) {
	type pdEvent struct {
		RoutingKey  string `json:"routing_key"`
		EventAction string `json:"event_action"`
		DedupKey    string `json:"dedup_key"`
		Payload     *struct {
			Summary  string `json:"summary"`
			Severity string `json:"severity"`
		} `json:"payload"`
	}
	received := make(chan pdEvent, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev pdEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode pagerduty body: %v", err)
		}
		received <- ev
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	t.Setenv("TEST_PD_URL", srv.URL)
	t.Setenv("TEST_PD_KEY", "routing-123")
	d, _ := newTestDispatcher(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{{Type: "pagerduty", URLEnv: "TEST_PD_URL", RoutingKeyEnv: "TEST_PD_KEY"}},
	})
	ctx := context.Background()

	_ = d.Publish(ctx, "root", update("n1", critical()))
	d.Wait()
	_ = d.Publish(ctx, "root", update("n1"))
	d.Wait()

	trigger, resolve := <-received, <-received
	if trigger.EventAction != "trigger" || trigger.RoutingKey != "routing-123" {
		t.Errorf("trigger: got %+v", trigger)
	}
	if trigger.Payload == nil || trigger.Payload.Severity != "critical" || trigger.Payload.Summary == "" {
		t.Errorf("trigger payload: got %+v", trigger.Payload)
	}
	if resolve.EventAction != "resolve" || resolve.Payload != nil {
		t.Errorf("resolve: got %+v", resolve)
	}
	if trigger.DedupKey == "" || trigger.DedupKey != resolve.DedupKey {
		t.Errorf("dedup keys differ: %q vs %q", trigger.DedupKey, resolve.DedupKey)
	}
}

func TestDispatcher_ChatPayloadsNameEntity(t *testing.T) {
	bodies := make(chan map[string]interface{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- body
	}))
	defer srv.Close()

	t.Setenv("TEST_CHAT_URL", srv.URL)
	d, _ := newTestDispatcher(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "TEST_CHAT_URL"},
			{Type: "teams", URLEnv: "TEST_CHAT_URL"},
		},
	})
	_ = d.Publish(context.Background(), "root", update("n1", critical()))
	d.Wait()

	var slack, teams map[string]interface{}
	for i := 0; i < 2; i++ {
		b := <-bodies
		if _, ok := b["text"]; ok {
			slack = b
		} else {
			teams = b
		}
	}
	if text, _ := slack["text"].(string); text == "" || !strings.Contains(text, "[CRITICAL]") || !strings.Contains(text, "root node `n1`") {
		t.Errorf("slack text: got %q", slack["text"])
	}
	if teams["@type"] != "MessageCard" || teams["themeColor"] != "D7263D" {
		t.Errorf("teams card: got %+v", teams)
	}
	sections, _ := teams["sections"].([]interface{})
	if len(sections) != 1 {
		t.Fatalf("teams sections: got %+v", teams["sections"])
	}
	if facts, _ := sections[0].(map[string]interface{})["facts"].([]interface{}); len(facts) != 3 {
		t.Errorf("teams facts: got %+v", sections[0])
	}
}

func TestDispatcher_ShutdownCancelsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	t.Setenv("TEST_SLOW_HOOK", srv.URL)
	d, _ := newTestDispatcher(t, config.AlertsConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_SLOW_HOOK"}},
	})
	_ = d.Publish(context.Background(), "root", update("n1", critical()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := d.Shutdown(ctx); err != context.DeadlineExceeded {
		t.Errorf("Shutdown: got %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Shutdown took %v; in-flight request was not cancelled", elapsed)
	}
}
