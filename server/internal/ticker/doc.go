// Package ticker drives periodic metric updates.
//
// A Scheduler owns one cron entry per watched network. Each entry calls
// GenerateUpdate on its network and fans the resulting diff out to every
// Sink. Entries are wrapped with cron.SkipIfStillRunning, so a tick that
// fires while the previous tick of the same network is still running is
// skipped, never queued.
package ticker
