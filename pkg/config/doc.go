// Package config provides configuration management for Tiller.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. It provides a type-safe
// configuration system with validation and sensible defaults.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tiller.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tiller.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TILLER_SECTION_FIELD.
// For example:
//
//   - TILLER_DATAPLANE_BASE_URL overrides dataplane.base_url
//   - TILLER_GATE_FAILURE_THRESHOLD overrides gate.failure_threshold
//   - TILLER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based
// configuration.
//
// # Hot Reload
//
// Watcher watches the configuration file and re-loads it on change, with
// debouncing so multi-step editor saves trigger a single reload. A reload
// that fails validation keeps the previous configuration in force. Only
// runtime-adjustable settings take effect on reload; structural settings
// such as the data-plane URL or storage backend require a restart.
//
// # Thread Safety
//
// A *Config is read-only after loading; sharing one across goroutines is
// safe. The Watcher delivers each reloaded *Config as a fresh value.
package config
