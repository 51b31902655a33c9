package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/netpulse/netpulse/pkg/types"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// maxMessageSize bounds client-to-server frames (subscribe requests).
	maxMessageSize = 512
)

// Event names of server-to-client messages.
const (
	EventNetwork = "network"
	EventUpdate  = "update"
	EventError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event   string      `json:"event"`
	Network string      `json:"network,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Request is a client-to-server message.
type Request struct {
	Action  string `json:"action"` // "subscribe"
	Network string `json:"network"`
}

// Opener returns a snapshot of a network, loading and scheduling it if needed.
type Opener func(ctx context.Context, id string) (*types.Network, error)

// Hub manages WebSocket clients, each subscribed to one network, and forwards
// update diffs to the clients subscribed to the ticked network.
type Hub struct {
	open           Opener
	defaultNetwork string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	network string
}

func (c *client) subscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network
}

// New creates a Hub. Clients that do not name a network are subscribed to
// defaultNetwork.
func New(open Opener, defaultNetwork string) *Hub {
	return &Hub{
		open:           open,
		defaultNetwork: defaultNetwork,
		clients:        make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Publish forwards u to every client subscribed to networkID. Clients whose
// outgoing buffer is full are disconnected.
func (h *Hub) Publish(_ context.Context, networkID string, u *types.Update) error {
	data, err := json.Marshal(Message{Event: EventUpdate, Network: networkID, Data: u})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.subscription() != networkID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client too slow, disconnecting", "client", c.id, "network", networkID)
		h.unregister(c)
	}
	return nil
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends a snapshot of the requested network (?network=<id>) immediately,
// then streams that network's updates. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	network := r.URL.Query().Get("network")
	if network == "" {
		network = h.defaultNetwork
	}
	slog.Debug("ws: client connected", "client", c.id, "network", network)

	go c.writePump()
	h.subscribe(r.Context(), c, network)
	h.readPump(r.Context(), c) // blocks until connection closes
	slog.Debug("ws: client disconnected", "client", c.id)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// subscribe sends the snapshot of network to c and switches c to it. If the
// network cannot be opened c receives an error event and keeps its previous
// subscription. A client whose buffer cannot take the snapshot is
// disconnected.
func (h *Hub) subscribe(ctx context.Context, c *client, network string) {
	snap, err := h.open(ctx, network)
	if err != nil {
		slog.Warn("ws: subscribe failed", "client", c.id, "network", network, "err", err)
		h.sendTo(c, Message{Event: EventError, Network: network, Error: err.Error()})
		return
	}
	data, err := json.Marshal(Message{Event: EventNetwork, Network: network, Data: snap})
	if err != nil {
		slog.Error("ws: marshal snapshot", "network", network, "err", err)
		return
	}

	// No update of network may be queued ahead of its snapshot.
	var slow bool
	h.mu.RLock()
	if _, ok := h.clients[c]; ok {
		c.mu.Lock()
		select {
		case c.send <- data:
			c.network = network
		default:
			slow = true
		}
		c.mu.Unlock()
	}
	h.mu.RUnlock()

	if slow {
		slog.Warn("ws: client too slow for snapshot, disconnecting", "client", c.id, "network", network)
		h.unregister(c)
	}
}

// sendTo queues msg for c unless c has already been unregistered.
func (h *Hub) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: marshal message", "event", msg.Event, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads subscribe requests and control frames (pong, close) until
// the connection closes.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendTo(c, Message{Event: EventError, Error: "malformed request"})
			continue
		}
		switch req.Action {
		case "subscribe":
			if req.Network == "" {
				h.sendTo(c, Message{Event: EventError, Error: "subscribe: network is required"})
				continue
			}
			h.subscribe(ctx, c, req.Network)
		default:
			h.sendTo(c, Message{Event: EventError, Error: "unknown action " + req.Action})
		}
	}
}
