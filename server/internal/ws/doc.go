// Package ws implements the WebSocket hub for netpulse-server.
//
// Every client is subscribed to exactly one network. On connect the hub sends
// a snapshot of the network named by ?network=<id> (the root network when
// absent); afterwards the client receives that network's update diffs, which
// the ticker delivers through Hub.Publish.
//
// Server-to-client messages:
//
//	{"event": "network", "network": "<id>", "data": { /* Network */ }}
//	{"event": "update",  "network": "<id>", "data": { /* Update  */ }}
//	{"event": "error",   "network": "<id>", "error": "..."}
//
// Client-to-server messages switch the subscription (drill-down):
//
//	{"action": "subscribe", "network": "<id>"}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
