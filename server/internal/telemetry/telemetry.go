// Package telemetry exposes netpulse's own operational metrics through a
// Prometheus client registry.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netpulse/netpulse/pkg/types"
)

const namespace = "netpulse"

// Recorder is a ticker sink that counts ticks and tracks alert totals.
type Recorder struct {
	reg *prometheus.Registry

	ticks        *prometheus.CounterVec
	skipped      prometheus.Counter
	duration     *prometheus.HistogramVec
	activeAlerts *prometheus.GaugeVec
}

// New creates a Recorder with its own registry. networks and clients are
// sampled at scrape time for the registered-network and WebSocket-client
// gauges; either may be nil.
func New(networks, clients func() int) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Update ticks completed per network.",
		}, []string{"network"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Scheduled ticks skipped because the previous tick was still running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time to generate and publish one update.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"network"}),
		activeAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Entities alerting after the latest tick, by severity.",
		}, []string{"network", "type"}),
	}

	r.reg.MustRegister(
		r.ticks, r.skipped, r.duration, r.activeAlerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if networks != nil {
		r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_networks",
			Help:      "Networks currently held by the generator.",
		}, func() float64 { return float64(networks()) }))
	}
	if clients != nil {
		r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}, func() float64 { return float64(clients()) }))
	}
	return r
}

// Publish records one tick of networkID.
func (r *Recorder) Publish(_ context.Context, networkID string, u *types.Update) error {
	r.ticks.WithLabelValues(networkID).Inc()
	for _, t := range []types.AlertType{types.AlertWarning, types.AlertCritical} {
		r.activeAlerts.WithLabelValues(networkID, string(t)).Set(float64(u.AlertCount(t)))
	}
	return nil
}

// TickSkipped counts a skipped tick.
func (r *Recorder) TickSkipped() { r.skipped.Inc() }

// TickDone observes the duration of a completed tick.
func (r *Recorder) TickDone(networkID string, d time.Duration) {
	r.duration.WithLabelValues(networkID).Observe(d.Seconds())
}

// Forget drops the per-network series of networkID.
func (r *Recorder) Forget(networkID string) {
	r.ticks.DeleteLabelValues(networkID)
	r.duration.DeleteLabelValues(networkID)
	for _, t := range []types.AlertType{types.AlertWarning, types.AlertCritical} {
		r.activeAlerts.DeleteLabelValues(networkID, string(t))
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
