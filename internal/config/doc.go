// Package config handles configuration loading for mapfeed.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, picked by extension,
// with environment variable expansion, defaults and validation. A .env file
// in the working directory is loaded into the environment first.
//
// # Configuration File
//
// Locations, in priority order:
//
//  1. The --config flag
//  2. Path from the MAPFEED_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/mapfeed/config.yaml (~/.config/mapfeed/config.yaml)
//
// # Environment Variable Expansion
//
//	telegram:
//	  token: "${MAPFEED_TELEGRAM_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use time.ParseDuration syntax:
//
//	geocoder:
//	  timeout: "10s"
//	intake:
//	  dedupe_ttl: "10m"
//
// # Sections
//
//	server:     http_addr, static_dir
//	tailscale:  enabled, hostname, auth_key, state_dir, ephemeral
//	telegram:   enabled, token, api_endpoint, operators, poll_timeout
//	matrix:     enabled, homeserver, user_id, access_token, allowed_rooms, operators
//	geocoder:   base_url, user_agent, language, timeout
//	intake:     link_policy, post_placeholder, keywords, dedupe_ttl
//	feed:       initial_snapshot, buffer
//	database:   path (empty disables the journal)
//	logging:    level, format
package config
