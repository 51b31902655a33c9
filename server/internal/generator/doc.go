// Package generator owns the registry of simulated networks and produces the
// per-tick metric diffs for them.
//
// A network is registered once. Registration draws one evolution pattern per
// node and link, backfills history for entities that have none, and fixes the
// network's start time, which is the phase origin of every pattern. Each call
// to GenerateUpdate advances the stored state to "now" and returns a diff of
// every entity.
//
// The Generator keeps its own copy of every registered network. Callers read
// state through Snapshot and GenerateUpdate, both of which return copies.
package generator
