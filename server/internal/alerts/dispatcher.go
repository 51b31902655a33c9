package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Event states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Event is one notification-worthy transition of an entity's alert state.
type Event struct {
	ID         string          `json:"id"`
	NetworkID  string          `json:"network_id"`
	EntityID   string          `json:"entity_id"`
	Kind       string          `json:"kind"` // "node" | "link"
	Severity   types.AlertType `json:"severity"`
	Message    string          `json:"message"`
	FiredAt    time.Time       `json:"fired_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	State      string          `json:"state"`
}

func (ev *Event) key() entityKey {
	return entityKey{network: ev.NetworkID, kind: ev.Kind, entity: ev.EntityID}
}

type entityKey struct {
	network, kind, entity string
}

// Dispatcher watches update diffs for entities that start, escalate or stop
// alerting and delivers webhook notifications for those transitions.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	webhooks []config.WebhookConfig
	cooldown time.Duration

	mu        sync.Mutex
	active    map[entityKey]*Event
	lastFire  map[entityKey]time.Time // last fire time per entity (for cooldown)
	lastPrune time.Time
	history   []*Event // recently resolved events
	client    *http.Client
	now       func() time.Time

	// ctx bounds webhook requests; Shutdown cancels it.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from the alerts configuration.
// A Dispatcher without webhooks still tracks active alerts.
func NewDispatcher(cfg config.AlertsConfig) *Dispatcher {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		webhooks: cfg.Webhooks,
		cooldown: cooldown,
		active:   make(map[entityKey]*Event),
		lastFire: make(map[entityKey]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish inspects every entity of u. Entities of networkID that were
// alerting but are absent from u are resolved. It never fails; delivery
// errors are logged.
func (d *Dispatcher) Publish(_ context.Context, networkID string, u *types.Update) error {
	now := d.now()
	seen := make(map[entityKey]struct{}, len(u.Changes.Nodes)+len(u.Changes.Links))
	for id, c := range u.Changes.Nodes {
		k := entityKey{network: networkID, kind: "node", entity: id}
		seen[k] = struct{}{}
		d.observe(k, c.Metrics.Alerts, now)
	}
	for id, c := range u.Changes.Links {
		k := entityKey{network: networkID, kind: "link", entity: id}
		seen[k] = struct{}{}
		d.observe(k, c.Metrics.Alerts, now)
	}

	d.mu.Lock()
	var gone []*Event
	for k, ev := range d.active {
		if _, ok := seen[k]; !ok && k.network == networkID {
			gone = append(gone, d.resolveLocked(ev, now))
		}
	}
	if now.Sub(d.lastPrune) > d.cooldown {
		d.pruneLocked(now)
	}
	d.mu.Unlock()

	for _, ev := range gone {
		slog.Info("alerts: resolved, entity left network",
			"network", ev.NetworkID, "kind", ev.Kind, "entity", ev.EntityID)
		d.dispatch(ev)
	}
	return nil
}

// Forget resolves every firing alert of networkID and drops its cooldown
// state. Call it when the network is removed.
func (d *Dispatcher) Forget(networkID string) {
	now := d.now()

	d.mu.Lock()
	var gone []*Event
	for k, ev := range d.active {
		if k.network == networkID {
			gone = append(gone, d.resolveLocked(ev, now))
		}
	}
	for k := range d.lastFire {
		if k.network == networkID {
			delete(d.lastFire, k)
		}
	}
	d.mu.Unlock()

	if len(gone) > 0 {
		slog.Info("alerts: network forgotten", "network", networkID, "resolved", len(gone))
	}
	for _, ev := range gone {
		d.dispatch(ev)
	}
}

func (d *Dispatcher) observe(k entityKey, alerts []types.Alert, now time.Time) {
	d.mu.Lock()
	existing := d.active[k]

	if len(alerts) == 0 {
		if existing == nil {
			d.mu.Unlock()
			return
		}
		ev := d.resolveLocked(existing, now)
		d.mu.Unlock()

		slog.Info("alerts: resolved", "network", k.network, "kind", k.kind, "entity", k.entity)
		d.dispatch(ev)
		return
	}

	top := highest(alerts)
	escalated := existing != nil && existing.Severity == types.AlertWarning && top.Type == types.AlertCritical
	if existing != nil && !escalated {
		d.mu.Unlock()
		return
	}
	if !escalated && now.Sub(d.lastFire[k]) <= d.cooldown {
		d.mu.Unlock()
		return
	}

	ev := &Event{
		ID:        uuid.NewString(),
		NetworkID: k.network,
		EntityID:  k.entity,
		Kind:      k.kind,
		Severity:  top.Type,
		Message:   fmt.Sprintf("%s %s in %s: %s", k.kind, k.entity, k.network, top.Message),
		FiredAt:   now,
		State:     StateFiring,
	}
	d.active[k] = ev
	d.lastFire[k] = now
	cp := *ev
	d.mu.Unlock()

	slog.Warn("alerts: fired",
		"network", k.network,
		"kind", k.kind,
		"entity", k.entity,
		"severity", top.Type,
		"escalated", escalated,
	)
	d.dispatch(&cp)
}

// resolveLocked moves ev from active to history and returns a copy.
// Caller holds d.mu.
func (d *Dispatcher) resolveLocked(ev *Event, now time.Time) *Event {
	resolved := now
	ev.State = StateResolved
	ev.ResolvedAt = &resolved
	delete(d.active, ev.key())

	d.history = append(d.history, ev)
	if len(d.history) > maxHistoryLen {
		d.history = d.history[len(d.history)-maxHistoryLen:]
	}
	cp := *ev
	return &cp
}

// pruneLocked drops cooldown entries that can no longer suppress a fire.
// Caller holds d.mu.
func (d *Dispatcher) pruneLocked(now time.Time) {
	for k, at := range d.lastFire {
		if _, firing := d.active[k]; !firing && now.Sub(at) > d.cooldown {
			delete(d.lastFire, k)
		}
	}
	d.lastPrune = now
}

func (d *Dispatcher) dispatch(ev *Event) {
	if len(d.webhooks) == 0 {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.deliver(ev)
	}()
}

// Wait blocks until every in-flight webhook delivery has finished.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

// Shutdown waits for in-flight deliveries until ctx is done, then cancels the
// remaining requests and waits for them to return. Deliveries started after
// Shutdown fail immediately.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Active returns copies of all currently firing events plus any events
// resolved within the past hour, newest first.
func (d *Dispatcher) Active() []*Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Event, 0, len(d.active))

	for _, ev := range d.active {
		cp := *ev
		out = append(out, &cp)
	}
	for _, ev := range d.history {
		if ev.ResolvedAt != nil && ev.ResolvedAt.After(cutoff) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// highest returns the most severe alert of a non-empty list.
func highest(alerts []types.Alert) types.Alert {
	top := alerts[0]
	for _, a := range alerts[1:] {
		if a.Type == types.AlertCritical {
			return a
		}
	}
	return top
}
