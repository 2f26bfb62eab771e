// Package config loads and validates the engine configuration from
// defaults, an optional YAML file, and QUORUMFLOW_-prefixed environment
// variables, in that precedence order. It also builds the zap logger and
// offers a polling file watcher for configuration reloads.
package config
