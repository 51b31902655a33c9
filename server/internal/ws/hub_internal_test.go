package ws

import (
	"context"
	"testing"

	"github.com/netpulse/netpulse/pkg/types"
)

func TestSubscribe_DisconnectsClientWithFullBuffer(t *testing.T) {
	h := New(func(_ context.Context, id string) (*types.Network, error) {
		return &types.Network{Metadata: types.Metadata{ID: id}}, nil
	}, "root")

	c := &client{id: "slow", send: make(chan []byte, 1), network: "root"}
	c.send <- []byte(`{"type":"update"}`)
	h.register(c)

	h.subscribe(context.Background(), c, "edge")

	if n := h.Count(); n != 0 {
		t.Fatalf("Count: want 0, got %d", n)
	}
	if c.subscription() != "root" {
		t.Errorf("subscription: want root kept, got %q", c.subscription())
	}
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after disconnect")
	}
}

func TestSubscribe_SwitchesNetworkWhenBufferHasRoom(t *testing.T) {
	h := New(func(_ context.Context, id string) (*types.Network, error) {
		return &types.Network{Metadata: types.Metadata{ID: id}}, nil
	}, "root")

	c := &client{id: "ok", send: make(chan []byte, 1), network: "root"}
	h.register(c)

	h.subscribe(context.Background(), c, "edge")

	if n := h.Count(); n != 1 {
		t.Fatalf("Count: want 1, got %d", n)
	}
	if c.subscription() != "edge" {
		t.Errorf("subscription: want edge, got %q", c.subscription())
	}
	if len(c.send) != 1 {
		t.Errorf("want snapshot queued, got %d messages", len(c.send))
	}
}
