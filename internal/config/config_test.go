// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, .env files, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "gatekeeper.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  driver: "sqlite3"
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  issuer: "test-issuer"
  token_ttl: "15m"
  max_token_ttl: "24h"
  bcrypt_cost: 12
  allow_registration: false
  default_roles: ["viewer", "user"]

login:
  throttle:
    backend: "redis"
    attempts: 10
    window: "30s"
    redis_addr: "localhost:6379"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.Path != "./test.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Auth.Issuer != "test-issuer" {
		t.Errorf("Auth.Issuer = %q, want test-issuer", cfg.Auth.Issuer)
	}
	if cfg.Auth.TokenTTL != 15*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 15m", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.MaxTokenTTL != 24*time.Hour {
		t.Errorf("Auth.MaxTokenTTL = %v, want 24h", cfg.Auth.MaxTokenTTL)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("Auth.BcryptCost = %d, want 12", cfg.Auth.BcryptCost)
	}
	if cfg.Auth.AllowRegistration {
		t.Error("Auth.AllowRegistration = true, want false")
	}
	if strings.Join(cfg.Auth.DefaultRoles, ",") != "viewer,user" {
		t.Errorf("Auth.DefaultRoles = %v, want [viewer user]", cfg.Auth.DefaultRoles)
	}
	if cfg.Login.Throttle.Backend != "redis" || cfg.Login.Throttle.Attempts != 10 || cfg.Login.Throttle.Window != 30*time.Second {
		t.Errorf("Login.Throttle = %+v", cfg.Login.Throttle)
	}
	// Unset fields keep their defaults.
	if cfg.Login.Throttle.MaxKeys != 10000 {
		t.Errorf("Login.Throttle.MaxKeys = %d, want default 10000", cfg.Login.Throttle.MaxKeys)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "gatekeeper.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "/var/lib/gatekeeper/gk.db"

[auth]
jwt_secret = "`+testSecret+`"
token_ttl = "2h"
default_roles = ["member"]

[login.throttle]
attempts = 3
window = "5m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want default sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 2h", cfg.Auth.TokenTTL)
	}
	if len(cfg.Auth.DefaultRoles) != 1 || cfg.Auth.DefaultRoles[0] != "member" {
		t.Errorf("Auth.DefaultRoles = %v, want [member]", cfg.Auth.DefaultRoles)
	}
	if cfg.Login.Throttle.Attempts != 3 || cfg.Login.Throttle.Window != 5*time.Minute {
		t.Errorf("Login.Throttle = %+v", cfg.Login.Throttle)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("GK_TEST_SECRET", testSecret)
	t.Setenv("GK_TEST_DB", "/tmp/from-env.db")

	path := writeConfig(t, "gatekeeper.yaml", `
database:
  path: "${GK_TEST_DB}"
auth:
  jwt_secret: "${GK_TEST_SECRET}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded secret", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want /tmp/from-env.db", cfg.Database.Path)
	}
}

func TestLoad_UnsetSecretFailsValidation(t *testing.T) {
	path := writeConfig(t, "gatekeeper.yaml", `
auth:
  jwt_secret: "${GK_TEST_DEFINITELY_UNSET}"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("Load() error = %v, want jwt_secret validation error", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GK_DOTENV_SECRET="+testSecret+"\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("GK_DOTENV_SECRET", "")
	os.Unsetenv("GK_DOTENV_SECRET")

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("GK_DOTENV_SECRET"); got != testSecret {
		t.Errorf("GK_DOTENV_SECRET = %q, want value from .env", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("LoadDotEnv(missing) error = %v, want nil", err)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("GK_DOTENV_KEEP=from-file\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("GK_DOTENV_KEEP", "from-env")

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("GK_DOTENV_KEEP"); got != "from-env" {
		t.Errorf("GK_DOTENV_KEEP = %q, want from-env", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gatekeeper.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "bad.yaml", "server:\n  http_addr: [unclosed\n"},
		{"toml", "bad.toml", "[server\nhttp_addr = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), "parsing config file") {
				t.Fatalf("Load() error = %v, want parse error", err)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "gatekeeper.yaml", `
auth:
  jwt_secret: "`+testSecret+`"
  token_ttl: "forever"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "auth.token_ttl") {
		t.Fatalf("Load() error = %v, want token_ttl parse error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with secret", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale replaces addr", func(c *Config) { c.Server.HTTPAddr = ""; c.Tailscale.Enabled = true; c.Tailscale.Hostname = "gk" }, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bcrypt cost too high", func(c *Config) { c.Auth.BcryptCost = 40 }, "bcrypt_cost"},
		{"max ttl below ttl", func(c *Config) { c.Auth.MaxTokenTTL = time.Minute }, "max_token_ttl"},
		{"unknown throttle backend", func(c *Config) { c.Login.Throttle.Backend = "memcached" }, "login.throttle.backend"},
		{"redis without addr", func(c *Config) { c.Login.Throttle.Backend = "redis" }, "redis_addr"},
		{"zero attempts", func(c *Config) { c.Login.Throttle.Attempts = 0 }, "attempts"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = testSecret
			cfg.Auth.TokenTTLRaw = "45m"
			path := filepath.Join(t.TempDir(), "nested", name)

			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0o600 {
				t.Errorf("mode = %o, want 600", perm)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.Auth.JWTSecret != testSecret {
				t.Errorf("JWTSecret not preserved")
			}
			if loaded.Auth.TokenTTL != 45*time.Minute {
				t.Errorf("TokenTTL = %v, want 45m", loaded.Auth.TokenTTL)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GK_A", "alpha")
	t.Setenv("GK_B", "beta")

	tests := []struct {
		input string
		want  string
	}{
		{"${GK_A}", "alpha"},
		{"${GK_A}-${GK_B}", "alpha-beta"},
		{"prefix ${GK_A} suffix", "prefix alpha suffix"},
		{"${GK_UNSET_VAR}", ""},
		{"no vars", "no vars"},
		{"$GK_A", "$GK_A"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/gatekeeper/custom.toml")
	if got := DefaultPath(); got != "/etc/gatekeeper/custom.toml" {
		t.Errorf("DefaultPath() = %q, want env override", got)
	}

	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/home/test/.config")
	if got := DefaultPath(); got != "/home/test/.config/gatekeeper/gatekeeper.yaml" {
		t.Errorf("DefaultPath() = %q, want XDG path", got)
	}
}
