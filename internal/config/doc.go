// Package config handles configuration loading for seneschal.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, when the file name ends
// in .toml) with environment variable expansion. Keys that are not set keep
// the values from Default.
//
// # Configuration File
//
// Locations (in order):
//
//  1. Path from SENESCHAL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/seneschal/config.yaml
//  3. ~/.config/seneschal/config.yaml
//
// A missing file is not an error; LoadOrDefault falls back to Default.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  url: "${SENESCHAL_URL}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	connection:
//	  heartbeat_interval: "30s"
//	  reconnect_delay: "1s"
//	  max_reconnect_delay: "30s"
//
// # Configuration Sections
//
//	server:
//	  url: "wss://seneschal.example/ws"
//	identity:
//	  user_id: "gm-1"
//	  user_name: "Game Master"
//	  role: "gamemaster"      # player, trusted, assistant, gamemaster
//	connection:
//	  max_reconnect_attempts: 5   # -1 disables reconnecting
//	chat:
//	  model: ""
//	  enabled_tools: ["dice_roll"]
//	tools:
//	  result_cache_ttl: "10m"
//	  result_cache_size: 256
//	database:
//	  path: "~/.local/share/seneschal/seneschal.db"   # "" keeps history in memory
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "text"    # text, json
//
// # Validation
//
// An empty server.url is accepted at load time. The connection manager
// reports it as a configuration error when asked to connect.
package config
