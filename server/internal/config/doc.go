// Package config loads the netpulse configuration from config.yaml.
//
// Sections:
//   - server    HTTP port, log level, root network, default tick interval, API rate limit
//   - catalog   where network definitions are read from, and whether to watch them
//   - generator metric name, history length/interval, RNG seed, trend, alert ranges
//   - redis     optional pub/sub fan-out of update diffs
//   - alerts    webhook targets and re-fire cooldown
//
// Secrets (Redis password, webhook URLs) are never stored in the file; the
// config names the environment variables that hold them.
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// re-runs Load whenever the file changes.
package config
