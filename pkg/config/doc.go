// Package config loads manager configuration from YAML files and
// environment variables, with sensible defaults for single-node use.
package config
