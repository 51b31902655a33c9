package catalog

import (
	"context"
	"sync"

	"github.com/netpulse/netpulse/pkg/types"
)

// Catalog caches the networks fetched from a Source.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	src Source

	mu    sync.RWMutex
	cache map[string]*types.Network
}

// New wraps src with a cache.
func New(src Source) *Catalog {
	return &Catalog{src: src, cache: make(map[string]*types.Network)}
}

// Get returns a copy of network id, fetching it on first use.
func (c *Catalog) Get(ctx context.Context, id string) (*types.Network, error) {
	c.mu.RLock()
	n, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return n.Clone(), nil
	}

	n, err := c.src.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[id] = n
	c.mu.Unlock()
	return n.Clone(), nil
}

// Invalidate drops id from the cache so the next Get refetches it.
func (c *Catalog) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

// Cached reports whether id is currently cached.
func (c *Catalog) Cached(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[id]
	return ok
}
