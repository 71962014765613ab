// Package config loads and validates YAML configuration for the origin
// server and the mirror agent. Durations are written as Go duration
// strings ("15m", "300s"). Validation is fatal on purpose: a mirror with
// an unwritable data directory or a nonsensical capacity refuses to start
// rather than running degraded.
package config
