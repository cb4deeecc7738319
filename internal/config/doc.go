// Package config handles configuration loading for mimrai-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Files ending in .toml are parsed as TOML; anything else is YAML.
// Optional fields get defaults from ApplyDefaults before Validate runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MIMRAI_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mimrai/gateway.yaml
//  3. ~/.config/mimrai/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MIMRAI_JWT_SECRET}"
//	generation:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	streams:
//	  retention: "15m"
//	  sweep_interval: "1m"
//	  heartbeat_interval: "15s"
//
// # Configuration Sections
//
//   - server: http_addr (required), shutdown_timeout
//   - database: path (required), the SQLite file
//   - auth: jwt_secret, issuer, public_scope; auth is off without a secret
//   - logging: level (debug, info, warn, error), format (text, json)
//   - metrics: enabled, path
//   - streams: namespace, retention, sweep_interval, heartbeat_interval
//   - dedupe: ttl, max_entries for re-posted message ids
//   - routing: confidence_threshold, fallback_agent, history_turns
//   - executor: max_rounds, history_limit, tool_timeout
//   - generation: provider (echo, anthropic), model, api_key, max_tokens, base_url
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//		return fmt.Errorf("loading config: %w", err)
//	}
package config
