// Package config loads and validates the tierq engine configuration from
// YAML files and environment variable overrides.
package config
