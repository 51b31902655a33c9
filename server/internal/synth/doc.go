// Package synth produces the synthetic telemetry signal of a single entity.
//
// pattern.go holds the per-entity EvolutionPattern: random wave parameters
// drawn once from an injected *rand.Rand so runs are reproducible per seed.
//
// value.go is the pure synthesizer: base + main wave + noise wave (+ optional
// linear trend), clamped to [0, 100]. t is elapsed seconds since the owning
// network's start time and may be negative for backfilled history.
//
// history.go maintains the bounded, oldest-first sample window per entity.
package synth
