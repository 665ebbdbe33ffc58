// ABOUTME: Configuration loading and parsing for the gatekeeper server
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion, and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "GATEKEEPER_CONFIG"

// MinJWTSecretLength mirrors the signing secret floor enforced by the token service.
const MinJWTSecretLength = 32

// Config represents the complete gatekeeper configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Login     LoginConfig     `yaml:"login" toml:"login"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel on :443, implies HTTPS
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds token and credential settings
type AuthConfig struct {
	JWTSecret         string   `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer            string   `yaml:"issuer" toml:"issuer"`
	BcryptCost        int      `yaml:"bcrypt_cost" toml:"bcrypt_cost"`
	AllowRegistration bool     `yaml:"allow_registration" toml:"allow_registration"`
	DefaultRoles      []string `yaml:"default_roles" toml:"default_roles"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	MaxTokenTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TokenTTLRaw    string `yaml:"token_ttl" toml:"token_ttl"`
	MaxTokenTTLRaw string `yaml:"max_token_ttl" toml:"max_token_ttl"`
}

// LoginConfig holds login endpoint settings
type LoginConfig struct {
	Throttle ThrottleConfig `yaml:"throttle" toml:"throttle"`
}

// ThrottleConfig sizes the login attempt limiter
type ThrottleConfig struct {
	Backend   string        `yaml:"backend" toml:"backend"` // memory or redis
	Attempts  int           `yaml:"attempts" toml:"attempts"`
	Window    time.Duration `yaml:"-" toml:"-"`
	WindowRaw string        `yaml:"window" toml:"window"`
	MaxKeys   int           `yaml:"max_keys" toml:"max_keys"`
	RedisAddr string        `yaml:"redis_addr" toml:"redis_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every optional field filled in. The
// JWT secret is left empty.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8080", GRPCAddr: "localhost:50051"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "./gatekeeper.db"},
		Auth: AuthConfig{
			Issuer:            "gatekeeper",
			BcryptCost:        bcrypt.DefaultCost,
			AllowRegistration: true,
			DefaultRoles:      []string{"user"},
			TokenTTL:          time.Hour,
			MaxTokenTTL:       30 * 24 * time.Hour,
			TokenTTLRaw:       "1h",
			MaxTokenTTLRaw:    "720h",
		},
		Login: LoginConfig{Throttle: ThrottleConfig{
			Backend:   "memory",
			Attempts:  5,
			Window:    time.Minute,
			WindowRaw: "1m",
			MaxKeys:   10000,
		}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// DefaultPath returns the config path: $GATEKEEPER_CONFIG if set, otherwise
// gatekeeper.yaml under the user's XDG config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, "gatekeeper", "gatekeeper.yaml")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first, and
// fields absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if isTOML(path) {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path in the format chosen by its extension, creating the
// parent directory. The file is written with 0600 permissions since it holds
// the signing secret.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.MaxTokenTTL < c.Auth.TokenTTL {
		return fmt.Errorf("auth.max_token_ttl (%s) must not be shorter than auth.token_ttl (%s)", c.Auth.MaxTokenTTL, c.Auth.TokenTTL)
	}

	t := c.Login.Throttle
	switch t.Backend {
	case "memory":
	case "redis":
		if t.RedisAddr == "" {
			return fmt.Errorf("login.throttle.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("login.throttle.backend must be memory or redis, got %q", t.Backend)
	}
	if t.Attempts <= 0 {
		return fmt.Errorf("login.throttle.attempts must be positive")
	}
	if t.Window <= 0 {
		return fmt.Errorf("login.throttle.window must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"auth.max_token_ttl", cfg.Auth.MaxTokenTTLRaw, &cfg.Auth.MaxTokenTTL},
		{"login.throttle.window", cfg.Login.Throttle.WindowRaw, &cfg.Login.Throttle.Window},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
