package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/alerts"
	"github.com/netpulse/netpulse/server/internal/catalog"
	"github.com/netpulse/netpulse/server/internal/config"
	"github.com/netpulse/netpulse/server/internal/stats"
)

// Registry is the read side of the generator.
type Registry interface {
	NetworkIDs() []string
	HasNetwork(id string) bool
}

// Ticker produces one on-demand update and fans it out to the sinks.
type Ticker interface {
	Tick(ctx context.Context, id string) (*types.Update, bool)
}

// Networks opens and resets networks in the drill-down hierarchy.
type Networks interface {
	Open(ctx context.Context, id string) (*types.Network, error)
	Path(ctx context.Context, id string) ([]string, error)
	Reset(ctx context.Context, id string) (*types.Network, error)
}

// AlertSource lists active and recently resolved alert events.
type AlertSource interface {
	Active() []*alerts.Event
}

// LatestSource reads back the most recent diff published for a network.
type LatestSource interface {
	Latest(ctx context.Context, id string) (*types.Update, bool, error)
}

// Deps wires the handler to the rest of the server.
type Deps struct {
	RootNetwork string
	Metric      string
	Registry    Registry
	Ticker      Ticker
	Networks    Networks
	Alerts      AlertSource
	Latest      LatestSource // nil when no publisher is configured
	Clients     func() int
	Watching    func() []string
	RateLimit   config.RateLimitConfig
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps    Deps
	mux     *http.ServeMux
	limiter *rate.Limiter
}

// New creates a Handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.Clients == nil {
		deps.Clients = func() int { return 0 }
	}
	if deps.Watching == nil {
		deps.Watching = func() []string { return nil }
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}
	if deps.RateLimit.RPS > 0 {
		burst := deps.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(deps.RateLimit.RPS), burst)
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/networks", h.listNetworks)
	h.mux.HandleFunc("/api/v1/networks/", h.network) // subtree - {id}[/action]
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		jsonErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	watching := h.deps.Watching()
	if watching == nil {
		watching = []string{}
	}
	resp := HealthResponse{
		Status:       "ok",
		RootNetwork:  h.deps.RootNetwork,
		NetworkCount: len(h.deps.Registry.NetworkIDs()),
		Watching:     watching,
		WSClients:    h.deps.Clients(),
	}
	if h.deps.Alerts != nil {
		for _, ev := range h.deps.Alerts.Active() {
			if ev.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	if !h.deps.Registry.HasNetwork(h.deps.RootNetwork) {
		resp.Status = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listNetworks returns GET /api/v1/networks - registered network ids.
func (h *Handler) listNetworks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ids := h.deps.Registry.NetworkIDs()
	if ids == nil {
		ids = []string{}
	}
	jsonResp(w, http.StatusOK, NetworkListResponse{Networks: ids})
}

// network dispatches /api/v1/networks/{id} and /api/v1/networks/{id}/{action}.
func (h *Handler) network(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/networks/")
	if rest == "" {
		h.listNetworks(w, r)
		return
	}
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "network not found")
		return
	}

	if action == "reset" {
		if r.Method != http.MethodPost {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.reset(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "":
		h.getNetwork(w, r, id)
	case "updates":
		h.updates(w, r, id)
	case "stats":
		h.stats(w, r, id)
	case "path":
		h.path(w, r, id)
	case "metrics":
		h.metrics(w, r, id)
	case "latest":
		h.latest(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "unknown resource")
	}
}

// getNetwork returns GET /api/v1/networks/{id}, opening the network if needed.
func (h *Handler) getNetwork(w http.ResponseWriter, r *http.Request, id string) {
	n, err := h.deps.Networks.Open(r.Context(), id)
	if err != nil {
		networkErr(w, id, err)
		return
	}
	jsonResp(w, http.StatusOK, n)
}

// updates returns GET /api/v1/networks/{id}/updates - one on-demand tick.
func (h *Handler) updates(w http.ResponseWriter, r *http.Request, id string) {
	u, ok := h.deps.Ticker.Tick(r.Context(), id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "network not registered")
		return
	}
	jsonResp(w, http.StatusOK, u)
}

// stats returns GET /api/v1/networks/{id}/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request, id string) {
	n, err := h.deps.Networks.Open(r.Context(), id)
	if err != nil {
		networkErr(w, id, err)
		return
	}
	s := stats.Calculate(n, h.deps.Metric)
	jsonResp(w, http.StatusOK, StatsResponse{
		Stats:       s,
		Metric:      h.deps.Metric,
		Diagnostics: computeDiagnostics(s, h.deps.Metric, n.Children()),
	})
}

// path returns GET /api/v1/networks/{id}/path - root-first breadcrumb.
func (h *Handler) path(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.deps.Networks.Path(r.Context(), id)
	if err != nil {
		networkErr(w, id, err)
		return
	}
	jsonResp(w, http.StatusOK, PathResponse{Network: id, Path: p})
}

// metrics returns GET /api/v1/networks/{id}/metrics in the Prometheus text
// exposition format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request, id string) {
	n, err := h.deps.Networks.Open(r.Context(), id)
	if err != nil {
		networkErr(w, id, err)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range entityFamilies(n, h.deps.Metric) {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("api: encode metrics", "network", id, "err", err)
			return
		}
	}
}

// latest returns GET /api/v1/networks/{id}/latest - the last diff stored by
// the publisher, which survives server restarts until its TTL expires.
func (h *Handler) latest(w http.ResponseWriter, r *http.Request, id string) {
	if h.deps.Latest == nil {
		jsonErr(w, http.StatusNotFound, "no publisher configured")
		return
	}
	u, ok, err := h.deps.Latest.Latest(r.Context(), id)
	if err != nil {
		slog.Warn("api: read latest update", "network", id, "err", err)
		jsonErr(w, http.StatusBadGateway, "latest update unavailable")
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "no update published")
		return
	}
	jsonResp(w, http.StatusOK, u)
}

// reset handles POST /api/v1/networks/{id}/reset.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request, id string) {
	n, err := h.deps.Networks.Reset(r.Context(), id)
	if err != nil {
		networkErr(w, id, err)
		return
	}
	jsonResp(w, http.StatusOK, n)
}

// alerts returns GET /api/v1/alerts, optionally filtered by ?network=.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := make([]*alerts.Event, 0)
	if h.deps.Alerts != nil {
		network := r.URL.Query().Get("network")
		for _, ev := range h.deps.Alerts.Active() {
			if network == "" || ev.NetworkID == network {
				out = append(out, ev)
			}
		}
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// networkErr maps a load error to a response.
func networkErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "network not found")
		return
	}
	slog.Error("api: load network", "network", id, "err", err)
	jsonErr(w, http.StatusBadGateway, "network unavailable")
}

// entityFamilies renders the current metric values of n as gauge families:
// one for the metric itself and, when any link carries one, one for link
// capacity.
func entityFamilies(n *types.Network, metric string) []*dto.MetricFamily {
	name := "netpulse_entity_" + sanitize(metric)
	values := &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String("Current " + metric + " value per entity."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	capacity := &dto.MetricFamily{
		Name: proto.String("netpulse_entity_capacity"),
		Help: proto.String("Link capacity."),
		Type: dto.MetricType_GAUGE.Enum(),
	}

	for _, node := range n.Nodes {
		if node.Metrics == nil {
			continue
		}
		if v, ok := node.Metrics.Current.Value(metric); ok {
			values.Metric = append(values.Metric, gauge(n.Metadata.ID, "node", node.ID, v))
		}
	}
	for _, l := range n.Links {
		if l.Metrics == nil {
			continue
		}
		if v, ok := l.Metrics.Current.Value(metric); ok {
			values.Metric = append(values.Metric, gauge(n.Metadata.ID, "link", l.ID(), v))
		}
		if c := l.Metrics.Current.Capacity; c != nil {
			capacity.Metric = append(capacity.Metric, gauge(n.Metadata.ID, "link", l.ID(), *c))
		}
	}

	var out []*dto.MetricFamily
	if len(values.Metric) > 0 {
		out = append(out, values)
	}
	if len(capacity.Metric) > 0 {
		out = append(out, capacity)
	}
	return out
}

// gauge builds one sample. Labels are listed in name order.
func gauge(network, kind, id string, v float64) *dto.Metric {
	labels := []*dto.LabelPair{
		{Name: proto.String("id"), Value: proto.String(id)},
		{Name: proto.String("kind"), Value: proto.String(kind)},
		{Name: proto.String("network"), Value: proto.String(network)},
	}
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

// sanitize maps a metric name onto the Prometheus name alphabet.
func sanitize(metric string) string {
	var b strings.Builder
	for i, r := range metric {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "value"
	}
	return b.String()
}
