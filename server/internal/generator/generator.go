package generator

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/server/internal/alerts"
	"github.com/netpulse/netpulse/server/internal/synth"
)

// DefaultLinkCapacity is reported for links whose current metrics carry no capacity.
const DefaultLinkCapacity = 100.0

// ErrMissingNetworkID is returned when a network without metadata.id is registered.
var ErrMissingNetworkID = errors.New("generator: network metadata.id is required")

// Options parameterise metric synthesis.
type Options struct {
	// MetricName is the key written into current values and history samples.
	MetricName string

	// HistoryLength is the capacity of every entity's history buffer.
	HistoryLength int

	// HistoryInterval is the spacing of backfilled samples.
	HistoryInterval time.Duration

	Ranges alerts.Thresholds

	// Seed fixes the pattern RNG. 0 seeds from the clock.
	Seed int64

	// Trend adds the linear drift term to every synthesized value.
	Trend bool
}

// DefaultOptions returns allocation/50/5m with the default alert ranges.
func DefaultOptions() Options {
	return Options{
		MetricName:      "allocation",
		HistoryLength:   50,
		HistoryInterval: 5 * time.Minute,
		Ranges:          alerts.DefaultThresholds(),
	}
}

type entry struct {
	// mu serialises ticks, resets and snapshots of one network.
	mu sync.Mutex

	network      *types.Network
	startTime    time.Time
	nodePatterns map[string]*synth.Pattern
	linkPatterns map[string]*synth.Pattern
}

// Generator is the registry of simulated networks.
//
// Generator is safe for concurrent use. Ticks of different networks run in
// parallel; ticks of the same network are serialised.
type Generator struct {
	mu       sync.RWMutex
	opts     Options
	networks map[string]*entry

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time // injectable for deterministic tests
}

// New creates an empty Generator. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Generator {
	def := DefaultOptions()
	if opts.MetricName == "" {
		opts.MetricName = def.MetricName
	}
	if opts.HistoryLength <= 0 {
		opts.HistoryLength = def.HistoryLength
	}
	if opts.HistoryInterval <= 0 {
		opts.HistoryInterval = def.HistoryInterval
	}
	if opts.Ranges == (alerts.Thresholds{}) {
		opts.Ranges = def.Ranges
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		opts:     opts,
		networks: make(map[string]*entry),
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

// Options returns the options currently in effect.
func (g *Generator) Options() Options {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.opts
}

// SetThresholds replaces the alert ranges used by subsequent ticks.
func (g *Generator) SetThresholds(th alerts.Thresholds) {
	g.mu.Lock()
	g.opts.Ranges = th
	g.mu.Unlock()
}

// RegisterNetwork adds n to the registry. Registering an id that is already
// present is a no-op: patterns, history and start time are kept.
// The Generator stores a copy; later changes to n are not observed.
func (g *Generator) RegisterNetwork(n *types.Network) error {
	if n == nil || n.Metadata.ID == "" {
		return ErrMissingNetworkID
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.networks[n.Metadata.ID]; ok {
		return nil
	}
	g.networks[n.Metadata.ID] = g.newEntry(n.Clone())
	return nil
}

// ResetNetwork drops any existing entry for id and registers n under id with
// fresh patterns, history and start time.
func (g *Generator) ResetNetwork(id string, n *types.Network) error {
	if id == "" || n == nil {
		return ErrMissingNetworkID
	}
	cp := n.Clone()
	cp.Metadata.ID = id

	g.mu.Lock()
	defer g.mu.Unlock()
	g.networks[id] = g.newEntry(cp)
	return nil
}

// DeleteNetwork removes id from the registry and reports whether it was present.
func (g *Generator) DeleteNetwork(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.networks[id]
	delete(g.networks, id)
	return ok
}

// HasNetwork reports whether id is registered.
func (g *Generator) HasNetwork(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.networks[id]
	return ok
}

// NetworkIDs returns the registered ids in sorted order.
func (g *Generator) NetworkIDs() []string {
	g.mu.RLock()
	ids := make([]string, 0, len(g.networks))
	for id := range g.networks {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns a deep copy of the stored network.
func (g *Generator) Snapshot(id string) (*types.Network, bool) {
	e, _, ok := g.lookup(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.network.Clone(), true
}

// GenerateUpdate advances every node and link of network id to the current
// time and returns the diff. It returns false, leaving the registry untouched,
// when id is not registered.
func (g *Generator) GenerateUpdate(id string) (*types.Update, bool) {
	e, opts, ok := g.lookup(id)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := g.now()
	t := synth.Elapsed(e.startTime, now)

	u := &types.Update{
		Timestamp: now,
		Changes: types.Changes{
			Nodes: make(map[string]types.EntityChange, len(e.network.Nodes)),
			Links: make(map[string]types.EntityChange, len(e.network.Links)),
		},
	}

	for _, node := range e.network.Nodes {
		p := e.nodePatterns[node.ID]
		if p == nil {
			p = g.pattern(node.Metrics, opts.MetricName)
			e.nodePatterns[node.ID] = p
		}
		m := ensureMetrics(&node.Metrics)
		advance(m, p.Value(t, opts.Trend), now, opts)
		u.Changes.Nodes[node.ID] = types.EntityChange{Metrics: *m.Clone()}
	}

	for _, l := range e.network.Links {
		linkID := l.ID()
		p := e.linkPatterns[linkID]
		if p == nil {
			p = g.pattern(l.Metrics, opts.MetricName)
			e.linkPatterns[linkID] = p
		}
		m := ensureMetrics(&l.Metrics)
		capacity := DefaultLinkCapacity
		if m.Current.Capacity != nil {
			capacity = *m.Current.Capacity
		}
		advance(m, p.Value(t, opts.Trend), now, opts)
		m.Current.Capacity = &capacity
		u.Changes.Links[linkID] = types.EntityChange{Metrics: *m.Clone()}
	}

	return u, true
}

// advance writes one synthesized value into m: current, history and alerts.
func advance(m *types.MetricState, v float64, now time.Time, opts Options) {
	m.Current.Set(opts.MetricName, v)
	m.Current.Timestamp = now
	m.History = synth.AppendSample(m.History, types.Sample{
		Timestamp: now,
		Metric:    opts.MetricName,
		Value:     v,
	}, opts.HistoryLength)
	m.Alerts = alerts.Evaluate(opts.MetricName, v, opts.Ranges, now)
}

func (g *Generator) lookup(id string) (*entry, Options, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.networks[id]
	return e, g.opts, ok
}

// newEntry builds patterns and history for n, which the entry takes ownership
// of. Caller holds g.mu.
func (g *Generator) newEntry(n *types.Network) *entry {
	now := g.now()
	e := &entry{
		network:      n,
		startTime:    now,
		nodePatterns: make(map[string]*synth.Pattern, len(n.Nodes)),
		linkPatterns: make(map[string]*synth.Pattern, len(n.Links)),
	}
	for _, node := range n.Nodes {
		p := g.pattern(node.Metrics, g.opts.MetricName)
		e.nodePatterns[node.ID] = p
		g.seed(ensureMetrics(&node.Metrics), p, now)
	}
	for _, l := range n.Links {
		p := g.pattern(l.Metrics, g.opts.MetricName)
		e.linkPatterns[l.ID()] = p
		g.seed(ensureMetrics(&l.Metrics), p, now)
	}
	return e
}

// seed backfills history when the entity arrives without any.
func (g *Generator) seed(m *types.MetricState, p *synth.Pattern, now time.Time) {
	if len(m.History) > 0 {
		return
	}
	m.History = synth.SeedHistory(p, g.opts.MetricName, g.opts.HistoryLength, g.opts.HistoryInterval, now, g.opts.Trend)
}

// pattern draws a new pattern seeded from the entity's current value of metric.
func (g *Generator) pattern(m *types.MetricState, metric string) *synth.Pattern {
	var initial *float64
	if m != nil {
		if v, ok := m.Current.Value(metric); ok {
			initial = &v
		}
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return synth.NewPattern(g.rng, initial)
}

func ensureMetrics(m **types.MetricState) *types.MetricState {
	if *m == nil {
		*m = &types.MetricState{}
	}
	if (*m).Alerts == nil {
		(*m).Alerts = []types.Alert{}
	}
	return *m
}
