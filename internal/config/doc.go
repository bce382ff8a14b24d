// Package config handles configuration loading for strandd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${STRAND_DATA_DIR}/strand.db"
//
// Syntax: ${VAR_NAME}
//
// Individual fields can also be overridden directly with STRAND_* variables
// (STRAND_DB_PATH, STRAND_LOG_LEVEL, STRAND_LOG_FORMAT and the session timing
// variables), which take precedence over file values.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  disconnect_grace: "5m"
//	  inactivity_interactive: "8h"
//	  inactivity_oneshot: "30m"
//	  heartbeat_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/strand/strand.db"
//
// Session lifecycle timing:
//
//	sessions:
//	  disconnect_grace: "5m"
//	  inactivity_interactive: "8h"
//	  inactivity_oneshot: "30m"
//	  heartbeat_interval: "30s"
//
// Runner timing:
//
//	runner:
//	  invite_wait: "1s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/strand/strandd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
