package ticker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netpulse/netpulse/pkg/types"
)

// minInterval is the resolution of cron.Every.
const minInterval = time.Second

// UpdateSource produces the diff for one tick of a network.
type UpdateSource interface {
	GenerateUpdate(id string) (*types.Update, bool)
}

// Sink consumes update diffs. Errors are logged by the Scheduler.
type Sink interface {
	Publish(ctx context.Context, networkID string, u *types.Update) error
}

// SkipCounter is notified when a tick is skipped because the previous one was
// still running. Sinks that also implement it receive the notification.
type SkipCounter interface {
	TickSkipped()
}

// TickObserver is notified of every completed tick. Sinks that also
// implement it receive the notification.
type TickObserver interface {
	TickDone(networkID string, d time.Duration)
}

type watch struct {
	entry    cron.EntryID
	interval time.Duration
}

// Scheduler runs periodic ticks for a set of networks.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	src      UpdateSource
	sinks    []Sink
	interval time.Duration
	cron     *cron.Cron

	mu      sync.Mutex
	watches map[string]watch

	// ctx is cancelled by Stop so in-flight sink calls can abort. Start
	// replaces a cancelled one. Guarded by mu.
	ctx    context.Context
	cancel context.CancelFunc

	skipped atomic.Int64
}

// New creates a stopped Scheduler. defaultInterval is used by Watch when
// called with a non-positive interval.
func New(src UpdateSource, defaultInterval time.Duration, sinks ...Sink) *Scheduler {
	if defaultInterval < minInterval {
		defaultInterval = minInterval
	}
	s := &Scheduler{
		src:      src,
		sinks:    sinks,
		interval: defaultInterval,
		watches:  make(map[string]watch),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	logger := cronLogger{s: s}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

// Start begins running scheduled ticks in the background. A stopped
// Scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()
	s.cron.Start()
	slog.Info("ticker: started", "default_interval", s.interval)
}

// Stop halts scheduling and cancels in-flight sink calls. The returned
// context is done once every running tick has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	done := s.cron.Stop()
	slog.Info("ticker: stopped")
	return done
}

// Watch schedules periodic ticks of network id every interval, replacing any
// previous schedule for id. Watching an id again with the same interval is a
// no-op.
func (s *Scheduler) Watch(id string, every time.Duration) {
	if every <= 0 {
		every = s.interval
	}
	if every < minInterval {
		every = minInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.watches[id]; ok {
		if w.interval == every {
			return
		}
		s.cron.Remove(w.entry)
	}
	entry := s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.Tick(s.runContext(), id)
	}))
	s.watches[id] = watch{entry: entry, interval: every}
	slog.Debug("ticker: watching network", "network", id, "interval", every)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Unwatch removes the schedule for id, if any.
func (s *Scheduler) Unwatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[id]; ok {
		s.cron.Remove(w.entry)
		delete(s.watches, id)
		slog.Debug("ticker: unwatched network", "network", id)
	}
}

// Watching returns the scheduled network ids in sorted order.
func (s *Scheduler) Watching() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Skipped returns how many ticks were skipped because the previous tick of
// the same network was still running.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Tick runs one update of network id immediately, publishes it to every
// sink and returns it. It reports false when id is not registered with the
// source.
func (s *Scheduler) Tick(ctx context.Context, id string) (*types.Update, bool) {
	start := time.Now()
	u, ok := s.src.GenerateUpdate(id)
	if !ok {
		slog.Warn("ticker: network not registered, skipping update", "network", id)
		return nil, false
	}

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, id, u); err != nil {
			slog.Error("ticker: sink publish failed", "network", id, "err", err)
		}
	}

	d := time.Since(start)
	for _, sink := range s.sinks {
		if o, ok := sink.(TickObserver); ok {
			o.TickDone(id, d)
		}
	}
	slog.Debug("ticker: tick",
		"network", id,
		"nodes", len(u.Changes.Nodes),
		"links", len(u.Changes.Links),
		"duration", d,
	)
	return u, true
}

func (s *Scheduler) tickSkipped() {
	s.skipped.Add(1)
	for _, sink := range s.sinks {
		if c, ok := sink.(SkipCounter); ok {
			c.TickSkipped()
		}
	}
}

// cronLogger routes cron's logging to slog and counts skipped ticks.
type cronLogger struct {
	s *Scheduler
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.s.tickSkipped()
		slog.Debug("ticker: previous tick still running, skipped")
		return
	}
	slog.Debug("ticker: cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("ticker: cron "+msg, append(keysAndValues, "err", err)...)
}
