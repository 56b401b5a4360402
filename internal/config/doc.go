// Package config handles configuration loading for stampdesk.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by .toml extension) with
// environment variable expansion. Every field has a default, so a missing
// file yields a runnable local setup.
//
// # Configuration File
//
// Lookup order:
//
//  1. The --config flag
//  2. STAMPDESK_CONFIG environment variable
//  3. ./stampdesk.yaml, then ./stampdesk.toml
//
// STAMPDESK_DB_PATH overrides storage.path after parsing.
//
// # Environment Variable Expansion
//
//	email:
//	  password: "${STAMPDESK_SMTP_PASSWORD}"
//
// Unset variables expand to an empty string.
//
// # Duration Parsing
//
// server.restart_delay, email.timeout and the harvester poll_interval,
// timeout and dedupe_ttl use time.ParseDuration syntax ("30s", "5m").
// Durations must be positive.
package config
