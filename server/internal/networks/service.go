// Package networks implements drill-down over the network hierarchy: child
// networks are loaded, registered and scheduled the first time they are
// opened.
package networks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// Registry is the subset of the generator used by the service.
type Registry interface {
	RegisterNetwork(n *types.Network) error
	ResetNetwork(id string, n *types.Network) error
	DeleteNetwork(id string) bool
	HasNetwork(id string) bool
	Snapshot(id string) (*types.Network, bool)
}

// Loader fetches network definitions.
type Loader interface {
	Get(ctx context.Context, id string) (*types.Network, error)
	Invalidate(id string)
}

// Scheduler schedules periodic ticks.
type Scheduler interface {
	Watch(id string, every time.Duration)
	Unwatch(id string)
}

// Service opens, reloads and resets networks.
type Service struct {
	reg   Registry
	load  Loader
	sched Scheduler
}

// New creates a Service.
func New(reg Registry, load Loader, sched Scheduler) *Service {
	return &Service{reg: reg, load: load, sched: sched}
}

// Open returns a snapshot of network id, loading, registering and scheduling
// it first if it is not yet registered.
func (s *Service) Open(ctx context.Context, id string) (*types.Network, error) {
	if snap, ok := s.reg.Snapshot(id); ok {
		return snap, nil
	}

	n, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reg.RegisterNetwork(n); err != nil {
		return nil, fmt.Errorf("networks: register %q: %w", id, err)
	}
	s.sched.Watch(id, interval(n))
	slog.Info("networks: opened", "network", id, "nodes", len(n.Nodes), "links", len(n.Links))

	snap, ok := s.reg.Snapshot(id)
	if !ok {
		// Deleted between registration and snapshot.
		return nil, fmt.Errorf("networks: %q vanished after registration", id)
	}
	return snap, nil
}

// Path returns the breadcrumb from the root of the hierarchy down to id,
// following parentNetwork. A parent that cannot be loaded ends the walk; a
// cycle is cut at the first repeated id.
func (s *Service) Path(ctx context.Context, id string) ([]string, error) {
	seen := make(map[string]struct{})
	var rev []string

	for cur := id; cur != ""; {
		if _, ok := seen[cur]; ok {
			slog.Warn("networks: parent cycle", "network", id, "repeated", cur)
			break
		}
		seen[cur] = struct{}{}

		n, err := s.lookup(ctx, cur)
		if err != nil {
			if cur == id {
				return nil, err
			}
			slog.Warn("networks: parent unavailable, truncating path", "network", id, "parent", cur, "err", err)
			break
		}
		rev = append(rev, cur)
		cur = n.Metadata.ParentNetwork
	}

	path := make([]string, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path, nil
}

// Reload refetches id and resets it in the registry if it is registered.
// It reports whether a registered network was reset.
func (s *Service) Reload(ctx context.Context, id string) (bool, error) {
	s.load.Invalidate(id)
	if !s.reg.HasNetwork(id) {
		return false, nil
	}
	if _, err := s.Reset(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// Retire unschedules id and removes it from the registry. It reports whether
// id was registered.
func (s *Service) Retire(id string) bool {
	s.sched.Unwatch(id)
	s.load.Invalidate(id)
	if !s.reg.DeleteNetwork(id) {
		return false
	}
	slog.Info("networks: retired", "network", id)
	return true
}

// Reset refetches id, replaces its registry entry with fresh patterns and
// history, and returns the new snapshot.
func (s *Service) Reset(ctx context.Context, id string) (*types.Network, error) {
	s.load.Invalidate(id)
	n, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.reg.ResetNetwork(id, n); err != nil {
		return nil, fmt.Errorf("networks: reset %q: %w", id, err)
	}
	s.sched.Watch(id, interval(n))
	slog.Info("networks: reset", "network", id)

	snap, ok := s.reg.Snapshot(id)
	if !ok {
		return nil, fmt.Errorf("networks: %q vanished after reset", id)
	}
	return snap, nil
}

// fetch loads id and forces its metadata id to match the requested one.
func (s *Service) fetch(ctx context.Context, id string) (*types.Network, error) {
	n, err := s.load.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Metadata.ID != id {
		slog.Warn("networks: metadata id differs from requested id, using requested",
			"requested", id, "metadata_id", n.Metadata.ID)
		n.Metadata.ID = id
	}
	return n, nil
}

func (s *Service) lookup(ctx context.Context, id string) (*types.Network, error) {
	if snap, ok := s.reg.Snapshot(id); ok {
		return snap, nil
	}
	return s.load.Get(ctx, id)
}

// interval converts metadata.updateInterval (ms) to a duration; 0 means the
// scheduler default.
func interval(n *types.Network) time.Duration {
	return time.Duration(n.Metadata.UpdateInterval) * time.Millisecond
}
