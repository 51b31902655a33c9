package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/common/expfmt"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/alerts"
	"github.com/netpulse/netpulse/server/internal/api"
	"github.com/netpulse/netpulse/server/internal/catalog"
	"github.com/netpulse/netpulse/server/internal/config"
	"github.com/netpulse/netpulse/server/internal/generator"
	"github.com/netpulse/netpulse/server/internal/networks"
	"github.com/netpulse/netpulse/server/internal/publish"
	"github.com/netpulse/netpulse/server/internal/ticker"
)

// --- test helpers -----------------------------------------------------------

const rootJSON = `{
  "metadata": {"id": "root", "updateInterval": 2000},
  "nodes": [
    {"id": "a", "type": "leaf", "x": 0, "y": 0,
     "metrics": {"current": {"allocation": 40}}},
    {"id": "b", "type": "leaf", "x": 10, "y": 0},
    {"id": "c", "type": "cluster", "x": 20, "y": 0, "childNetwork": "east"}
  ],
  "links": [
    {"source": "a", "target": "b", "metrics": {"current": {"allocation": 20, "capacity": 400}}}
  ]
}`

const eastJSON = `{
  "metadata": {"id": "east", "parentNetwork": "root"},
  "nodes": [{"id": "e1", "type": "leaf", "x": 0, "y": 0}],
  "links": []
}`

type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSink) Publish(_ context.Context, id string, _ *types.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *recordingSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type staticAlerts []*alerts.Event

func (a staticAlerts) Active() []*alerts.Event { return a }

type server struct {
	h    http.Handler
	gen  *generator.Generator
	sink *recordingSink
}

func newServer(t *testing.T, mutate func(*api.Deps)) *server {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"root.json": rootJSON, "east.json": eastJSON} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	gen := generator.New(generator.Options{Seed: 1})
	sink := &recordingSink{}
	sched := ticker.New(gen, time.Second, sink)
	t.Cleanup(func() { <-sched.Stop().Done() })
	svc := networks.New(gen, catalog.New(catalog.NewDirSource(dir)), sched)

	deps := api.Deps{
		RootNetwork: "root",
		Metric:      "allocation",
		Registry:    gen,
		Ticker:      sched,
		Networks:    svc,
		Alerts:      alerts.NewDispatcher(config.AlertsConfig{}),
		Clients:     func() int { return 3 },
		Watching:    sched.Watching,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &server{h: api.New(deps), gen: gen, sink: sink}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_DegradedUntilRootOpened(t *testing.T) {
	s := newServer(t, nil)

	rr := get(t, s.h, "/api/v1/health")
	wantStatus(t, rr, http.StatusOK)
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status: got %v, want degraded", resp["status"])
	}
	if resp["network_count"].(float64) != 0 {
		t.Errorf("network_count: got %v, want 0", resp["network_count"])
	}
	if resp["ws_clients"].(float64) != 3 {
		t.Errorf("ws_clients: got %v, want 3", resp["ws_clients"])
	}

	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)

	rr = get(t, s.h, "/api/v1/health")
	decode(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status after open: got %v, want ok", resp["status"])
	}
	if w, ok := resp["watching"].([]interface{}); !ok || len(w) != 1 || w[0] != "root" {
		t.Errorf("watching: got %v, want [root]", resp["watching"])
	}
}

// --- /api/v1/networks -------------------------------------------------------

func TestNetworks_ListIsSorted(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)
	wantStatus(t, get(t, s.h, "/api/v1/networks/east"), http.StatusOK)

	for _, path := range []string{"/api/v1/networks", "/api/v1/networks/"} {
		rr := get(t, s.h, path)
		wantStatus(t, rr, http.StatusOK)
		var resp api.NetworkListResponse
		decode(t, rr, &resp)
		if strings.Join(resp.Networks, ",") != "east,root" {
			t.Errorf("%s: got %v, want [east root]", path, resp.Networks)
		}
	}
}

func TestNetworks_EmptyListIsArray(t *testing.T) {
	s := newServer(t, nil)
	rr := get(t, s.h, "/api/v1/networks")
	wantStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"networks":[]`) {
		t.Errorf("body: got %s, want empty array", rr.Body.String())
	}
}

func TestGetNetwork_OpensLazily(t *testing.T) {
	s := newServer(t, nil)
	if s.gen.HasNetwork("root") {
		t.Fatal("root registered before first request")
	}

	rr := get(t, s.h, "/api/v1/networks/root")
	wantStatus(t, rr, http.StatusOK)
	var n types.Network
	decode(t, rr, &n)
	if n.Metadata.ID != "root" || len(n.Nodes) != 3 || len(n.Links) != 1 {
		t.Errorf("snapshot: got id=%q nodes=%d links=%d", n.Metadata.ID, len(n.Nodes), len(n.Links))
	}
	if !s.gen.HasNetwork("root") {
		t.Error("root not registered after open")
	}
	if got := len(n.Nodes[0].Metrics.History); got != 50 {
		t.Errorf("seeded history: got %d samples, want 50", got)
	}
}

func TestGetNetwork_Unknown(t *testing.T) {
	s := newServer(t, nil)
	for _, path := range []string{
		"/api/v1/networks/nope",
		"/api/v1/networks/nope/stats",
		"/api/v1/networks/nope/path",
		"/api/v1/networks/nope/metrics",
	} {
		rr := get(t, s.h, path)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d, want 404", path, rr.Code)
		}
	}
	if rr := do(t, s.h, http.MethodPost, "/api/v1/networks/nope/reset"); rr.Code != http.StatusNotFound {
		t.Errorf("reset unknown: got %d, want 404", rr.Code)
	}
}

func TestNetwork_UnknownAction(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/bogus"), http.StatusNotFound)
}

// --- /api/v1/networks/{id}/updates ------------------------------------------

func TestUpdates_NotRegistered(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/updates"), http.StatusNotFound)
	if got := s.sink.published(); len(got) != 0 {
		t.Errorf("sink saw %v for unregistered network", got)
	}
	if s.gen.HasNetwork("root") {
		t.Error("updates must not register a network")
	}
}

func TestUpdates_TickReachesSinks(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)

	rr := get(t, s.h, "/api/v1/networks/root/updates")
	wantStatus(t, rr, http.StatusOK)
	var u types.Update
	decode(t, rr, &u)

	if len(u.Changes.Nodes) != 3 || len(u.Changes.Links) != 1 {
		t.Fatalf("changes: got %d nodes %d links, want 3/1", len(u.Changes.Nodes), len(u.Changes.Links))
	}
	link := u.Changes.Links["a->b"].Metrics.Current
	if link.Capacity == nil || *link.Capacity != 400 {
		t.Errorf("link capacity: got %v, want 400", link.Capacity)
	}
	for id, c := range u.Changes.Nodes {
		v, ok := c.Metrics.Current.Value("allocation")
		if !ok || v < 0 || v > 100 {
			t.Errorf("node %s: allocation %v (ok=%v) outside [0, 100]", id, v, ok)
		}
	}
	if got := s.sink.published(); len(got) != 1 || got[0] != "root" {
		t.Errorf("sink: got %v, want [root]", got)
	}
}

// --- /api/v1/networks/{id}/stats --------------------------------------------

func TestStats_CountsAndDiagnostics(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/updates"), http.StatusOK)

	rr := get(t, s.h, "/api/v1/networks/root/stats")
	wantStatus(t, rr, http.StatusOK)
	var resp api.StatsResponse
	decode(t, rr, &resp)

	if resp.TotalNodes != 3 || resp.ClusterNodes != 1 || resp.LeafNodes != 2 || resp.TotalLinks != 1 {
		t.Errorf("counts: got %+v", resp.Stats)
	}
	if resp.Metric != "allocation" {
		t.Errorf("metric: got %q", resp.Metric)
	}
	if resp.MaxMetric.Nodes < resp.AvgMetric.Nodes {
		t.Errorf("max %v below avg %v", resp.MaxMetric.Nodes, resp.AvgMetric.Nodes)
	}
	var drill bool
	for _, d := range resp.Diagnostics {
		if d.Key == "drill_down" {
			drill = true
			if !strings.Contains(d.Detail, "east") {
				t.Errorf("drill_down detail %q should name child network east", d.Detail)
			}
		}
	}
	if !drill {
		t.Errorf("diagnostics: missing drill_down hint in %+v", resp.Diagnostics)
	}
}

// --- /api/v1/networks/{id}/path ---------------------------------------------

func TestPath_Breadcrumb(t *testing.T) {
	s := newServer(t, nil)
	rr := get(t, s.h, "/api/v1/networks/east/path")
	wantStatus(t, rr, http.StatusOK)
	var resp api.PathResponse
	decode(t, rr, &resp)
	if strings.Join(resp.Path, "/") != "root/east" {
		t.Errorf("path: got %v, want [root east]", resp.Path)
	}
}

// --- /api/v1/networks/{id}/metrics ------------------------------------------

func TestMetrics_TextExposition(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/updates"), http.StatusOK)

	rr := get(t, s.h, "/api/v1/networks/root/metrics")
	wantStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type: got %q", ct)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	values, ok := families["netpulse_entity_allocation"]
	if !ok {
		t.Fatalf("missing netpulse_entity_allocation in %v", families)
	}
	if got := len(values.GetMetric()); got != 4 {
		t.Errorf("allocation samples: got %d, want 4 (3 nodes, 1 link)", got)
	}
	kinds := map[string]int{}
	for _, m := range values.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "kind" {
				kinds[l.GetValue()]++
			}
		}
	}
	if kinds["node"] != 3 || kinds["link"] != 1 {
		t.Errorf("kinds: got %v", kinds)
	}

	capacity, ok := families["netpulse_entity_capacity"]
	if !ok || len(capacity.GetMetric()) != 1 {
		t.Fatalf("capacity family: got %v", capacity)
	}
	if got := capacity.GetMetric()[0].GetGauge().GetValue(); got != 400 {
		t.Errorf("capacity: got %v, want 400", got)
	}
}

// --- /api/v1/networks/{id}/reset --------------------------------------------

func TestReset_RequiresPost(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/reset"), http.StatusMethodNotAllowed)
}

func TestReset_ReseedsNetwork(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root"), http.StatusOK)
	for i := 0; i < 3; i++ {
		wantStatus(t, get(t, s.h, "/api/v1/networks/root/updates"), http.StatusOK)
	}

	rr := do(t, s.h, http.MethodPost, "/api/v1/networks/root/reset")
	wantStatus(t, rr, http.StatusOK)
	var n types.Network
	decode(t, rr, &n)
	// Reset reloads the catalog definition, so node b has no current value yet.
	if _, ok := n.Nodes[1].Metrics.Current.Value("allocation"); ok {
		t.Error("node b: current value survived reset")
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_FilterByNetwork(t *testing.T) {
	now := time.Now()
	s := newServer(t, func(d *api.Deps) {
		d.Alerts = staticAlerts{
			{ID: "1", NetworkID: "root", EntityID: "a", State: alerts.StateFiring, FiredAt: now},
			{ID: "2", NetworkID: "east", EntityID: "e1", State: alerts.StateFiring, FiredAt: now},
			{ID: "3", NetworkID: "root", EntityID: "b", State: alerts.StateResolved, FiredAt: now},
		}
	})

	var all []alerts.Event
	rr := get(t, s.h, "/api/v1/alerts")
	wantStatus(t, rr, http.StatusOK)
	decode(t, rr, &all)
	if len(all) != 3 {
		t.Errorf("all: got %d, want 3", len(all))
	}

	var root []alerts.Event
	rr = get(t, s.h, "/api/v1/alerts?network=root")
	decode(t, rr, &root)
	if len(root) != 2 {
		t.Errorf("root: got %d, want 2", len(root))
	}

	var health map[string]interface{}
	decode(t, get(t, s.h, "/api/v1/health"), &health)
	if health["alert_count"].(float64) != 2 {
		t.Errorf("alert_count: got %v, want 2 firing", health["alert_count"])
	}
}

func TestAlerts_EmptyIsArray(t *testing.T) {
	s := newServer(t, nil)
	rr := get(t, s.h, "/api/v1/alerts")
	wantStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body: got %s, want []", rr.Body.String())
	}
}

// --- /api/v1/networks/{id}/latest -------------------------------------------

func TestLatest_ReadsBackPublishedUpdate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client, err := publish.Dial(context.Background(), mr.Addr(), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	pub := publish.New(client, "netpulse:", time.Minute)
	t.Cleanup(func() { _ = pub.Close() })

	s := newServer(t, func(d *api.Deps) { d.Latest = pub })
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/latest"), http.StatusNotFound)

	u := &types.Update{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Changes: types.Changes{
			Nodes: map[string]types.EntityChange{"a": {}},
			Links: map[string]types.EntityChange{},
		},
	}
	if err := pub.Publish(context.Background(), "root", u); err != nil {
		t.Fatalf("publish: %v", err)
	}

	rr := get(t, s.h, "/api/v1/networks/root/latest")
	wantStatus(t, rr, http.StatusOK)
	var got types.Update
	decode(t, rr, &got)
	if !got.Timestamp.Equal(u.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, u.Timestamp)
	}
	if _, ok := got.Changes.Nodes["a"]; !ok {
		t.Errorf("changes: got %+v, want node a", got.Changes)
	}

	mr.Close()
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/latest"), http.StatusBadGateway)
}

func TestLatest_NotFoundWithoutPublisher(t *testing.T) {
	s := newServer(t, nil)
	wantStatus(t, get(t, s.h, "/api/v1/networks/root/latest"), http.StatusNotFound)
}

// --- method and rate limiting -----------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	s := newServer(t, nil)
	for _, path := range []string{
		"/api/v1/health",
		"/api/v1/networks",
		"/api/v1/networks/root",
		"/api/v1/networks/root/stats",
		"/api/v1/alerts",
	} {
		rr := do(t, s.h, http.MethodPost, path)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("POST %s: content type %q", path, ct)
		}
	}
}

func TestRateLimit_Returns429(t *testing.T) {
	s := newServer(t, func(d *api.Deps) {
		d.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	})
	wantStatus(t, get(t, s.h, "/api/v1/health"), http.StatusOK)

	rr := get(t, s.h, "/api/v1/health")
	wantStatus(t, rr, http.StatusTooManyRequests)
	var resp map[string]string
	decode(t, rr, &resp)
	if resp["error"] == "" {
		t.Error("429 without error body")
	}
}

func TestRateLimit_ZeroDisables(t *testing.T) {
	s := newServer(t, nil)
	for i := 0; i < 50; i++ {
		wantStatus(t, get(t, s.h, "/api/v1/health"), http.StatusOK)
	}
}
