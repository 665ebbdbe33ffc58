// Package config handles configuration loading for gatekeeper.
//
// # Configuration File
//
// The path comes from the GATEKEEPER_CONFIG environment variable, or falls
// back to $XDG_CONFIG_HOME/gatekeeper/gatekeeper.yaml (~/.config when
// XDG_CONFIG_HOME is unset). Files ending in .toml are read as TOML; anything
// else is read as YAML. Fields missing from the file keep the values from
// Default.
//
// # Environment
//
// LoadDotEnv reads a .env file into the process environment before the config
// is loaded. Variables that are already set win. Config values can then
// reference the environment:
//
//	auth:
//	  jwt_secret: "${GATEKEEPER_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// token_ttl, max_token_ttl and login.throttle.window use time.ParseDuration
// syntax ("90s", "1h", "720h").
//
// # Sections
//
//	server:    { http_addr: "localhost:8080", grpc_addr: "localhost:50051" }
//	tailscale: { enabled: false, hostname: "", auth_key: "", state_dir: "", ephemeral: false, https: false, funnel: false }
//	database:  { driver: "sqlite", path: "./gatekeeper.db" }
//	auth:
//	  jwt_secret: "${GATEKEEPER_JWT_SECRET}"
//	  issuer: "gatekeeper"
//	  token_ttl: "1h"
//	  max_token_ttl: "720h"
//	  bcrypt_cost: 10
//	  allow_registration: true
//	  default_roles: ["user"]
//	login:
//	  throttle: { backend: "memory", attempts: 5, window: "1m", max_keys: 10000, redis_addr: "" }
//	logging:   { level: "info", format: "text" }
//	metrics:   { enabled: true, path: "/metrics" }
//
// # Validation
//
// Load rejects a JWT secret shorter than 32 bytes, an unknown database driver
// or throttle backend, a max_token_ttl shorter than token_ttl, and bcrypt
// costs outside the library's range.
package config
