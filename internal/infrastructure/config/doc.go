// Package config provides configuration loading for Navis Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by NAVIS_* environment variables. The resulting
// Config is validated before use; an invalid configuration fails startup
// rather than producing surprising runtime behaviour.
//
// Sections:
//   - mqtt: broker connection for the message bus
//   - registry: heartbeat and liveness windows for device discovery
//   - scheduler: shutdown grace for publisher loops
//   - database: SQLite registration store used by navisd
//   - influxdb: optional measurement history
//   - api: navisd HTTP status API
//   - logging: level, format, and destination
package config
