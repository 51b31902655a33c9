// Package types defines the network data contract shared by the generator,
// the REST API, the WebSocket hub and the browser renderer: networks, nodes,
// links, their metric state, update diffs and summary statistics.
//
// JSON field names follow the renderer's expectations (camelCase). Metric
// samples and current values are keyed by the configured metric name, so
// Sample and Current carry custom JSON codecs.
package types
