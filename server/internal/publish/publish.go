// Package publish fans update diffs out to Redis: every diff is published on
// a per-network channel and kept as the network's latest diff with a TTL, so
// consumers that subscribe late can catch up.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netpulse/netpulse/pkg/types"
)

// Publisher is a ticker sink backed by a Redis client.
type Publisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a Publisher writing under prefix. A ttl of 0 keeps latest keys
// without expiry.
func New(client *redis.Client, prefix string, ttl time.Duration) *Publisher {
	return &Publisher{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("publish: ping %s: %w", addr, err)
	}
	return client, nil
}

// Channel returns the pub/sub channel for networkID.
func (p *Publisher) Channel(networkID string) string { return p.prefix + networkID }

// LatestKey returns the key holding the most recent diff of networkID.
func (p *Publisher) LatestKey(networkID string) string { return p.prefix + networkID + ":latest" }

// Publish sends u on the network's channel and stores it as the latest diff.
func (p *Publisher) Publish(ctx context.Context, networkID string, u *types.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("publish: marshal update: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.Channel(networkID), data)
	pipe.Set(ctx, p.LatestKey(networkID), data, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish: %s: %w", networkID, err)
	}
	return nil
}

// Latest returns the most recent diff stored for networkID.
func (p *Publisher) Latest(ctx context.Context, networkID string) (*types.Update, bool, error) {
	data, err := p.client.Get(ctx, p.LatestKey(networkID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("publish: get latest %s: %w", networkID, err)
	}
	var u types.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, false, fmt.Errorf("publish: decode latest %s: %w", networkID, err)
	}
	return &u, true, nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error { return p.client.Close() }
