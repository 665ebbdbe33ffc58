// ABOUTME: Entry point for the gatekeeper authentication server
// ABOUTME: Serves the API and provides operator commands (init, bootstrap, token, hash, health)

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/gateway"
	"github.com/2389/gatekeeper/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
              _       _
   __ _  __ _| |_ ___| | _____  ___ _ __   ___ _ __
  / _' |/ _' | __/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|
 | (_| | (_| | ||  __/   <  __/  __/ |_) |  __/ |
  \__, |\__,_|\__\___|_|\_\___|\___| .__/ \___|_|
  |___/                            |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "hash":
		err = runHash(os.Stdin)
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: gatekeeper <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the server")
	fmt.Println("  init                                Create a config file interactively")
	fmt.Println("  bootstrap --login KEY [--name NAME] Create the admin role and first administrator")
	fmt.Println("            [--prompt]                Ask for the password instead of generating one")
	fmt.Println("  token --id ID [--ttl DURATION]      Issue a token for an identity")
	fmt.Println("  hash                                Read a secret from stdin and print its bcrypt hash")
	fmt.Println("  health                              Check server liveness")
	fmt.Println("  ready                               Check server readiness")
	fmt.Println()
	fmt.Printf("Config: %s (override with %s)\n", config.DefaultPath(), config.EnvConfigPath)
}

// getDataPath returns the gatekeeper data directory.
// Priority: XDG_DATA_HOME/gatekeeper > ~/.local/share/gatekeeper
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "gatekeeper")
}

// tokenPath is where bootstrap leaves the admin token for gatekeeper-admin.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Throttle:  %s (%d per %s)\n", cfg.Login.Throttle.Backend, cfg.Login.Throttle.Attempts, cfg.Login.Throttle.Window)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if !cfg.Auth.AllowRegistration {
		yellow.Println("    ▶ Registration disabled")
	}
	fmt.Println()

	logger.Info("starting gatekeeper", "version", version, "config", configPath)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// parseArgs reads "--flag value" and "--flag=value" pairs. Names in boolFlags
// take no value.
func parseArgs(args []string, valueFlags, boolFlags []string) (map[string]string, error) {
	known := func(list []string, name string) bool {
		for _, n := range list {
			if n == name {
				return true
			}
		}
		return false
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case known(boolFlags, name):
			out[name] = "true"
		case known(valueFlags, name):
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			out[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return out, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ensureConfig loads the config, writing one with a fresh signing secret when
// none exists yet.
func ensureConfig(configPath string) (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, false, fmt.Errorf("loading config: %w", err)
		}
		return cfg, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("checking config: %w", err)
	}

	secret, err := randomString(32)
	if err != nil {
		return nil, false, fmt.Errorf("generating JWT secret: %w", err)
	}
	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		return nil, false, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	cfg.Database.Path = filepath.Join(dataPath, "gatekeeper.db")
	if err := config.Save(configPath, cfg); err != nil {
		return nil, false, fmt.Errorf("writing config: %w", err)
	}
	return cfg, true, nil
}

// runBootstrap performs first-time setup:
// creates a config with a random secret if needed, seeds the admin and user
// roles, creates the first administrator, and saves a token for gatekeeper-admin.
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseArgs(args, []string{"login", "name"}, []string{"prompt"})
	if err != nil {
		return err
	}
	loginKey := store.NormalizeLoginKey(flags["login"])
	if loginKey == "" {
		return fmt.Errorf("--login flag is required")
	}
	displayName := strings.TrimSpace(flags["name"])

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	configPath := config.DefaultPath()
	cfg, created, err := ensureConfig(configPath)
	if err != nil {
		return err
	}
	if created {
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	secret := ""
	generated := false
	if flags["prompt"] != "" {
		secret = prompt(bufio.NewReader(os.Stdin), "Password for "+loginKey, "")
		if len(secret) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}
	} else {
		if secret, err = randomString(18); err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
		generated = true
	}

	s, err := store.OpenSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	tokens, err := auth.NewJWTService(auth.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		DefaultTTL: cfg.Auth.TokenTTL,
		Issuer:     cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	res, err := gateway.Bootstrap(ctx, s, auth.NewBcryptVerifier(cfg.Auth.BcryptCost), tokens, gateway.BootstrapParams{
		LoginKey:    loginKey,
		DisplayName: displayName,
		Secret:      secret,
		TokenTTL:    cfg.Auth.MaxTokenTTL,
		Logger:      setupLogger(cfg.Logging),
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	green.Printf("  ✓ Created administrator: %s\n", loginKey)

	tp := tokenPath(configPath)
	if err := os.WriteFile(tp, []byte(res.Token.Raw), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tp)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Administrator")
	cyan.Println("  -------------")
	fmt.Printf("  ID:        %s\n", res.Identity.ID)
	fmt.Printf("  Login key: %s\n", res.Identity.LoginKey)
	if displayName != "" {
		fmt.Printf("  Name:      %s\n", displayName)
	}
	fmt.Printf("  Roles:     admin\n")
	if generated {
		yellow.Printf("  Password:  %s\n", secret)
	}
	fmt.Printf("  Token:     %s (expires %s)\n", tp, res.Token.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    gatekeeper serve        # start the server")
	fmt.Println("    gatekeeper-admin me     # verify your identity")
	fmt.Println()
	return nil
}

// runToken issues a token for an existing identity straight from the store.
func runToken(ctx context.Context, args []string) error {
	flags, err := parseArgs(args, []string{"id", "ttl"}, nil)
	if err != nil {
		return err
	}
	id := flags["id"]
	if id == "" {
		return fmt.Errorf("--id flag is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := cfg.Auth.TokenTTL
	if raw := flags["ttl"]; raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}
	if ttl > cfg.Auth.MaxTokenTTL {
		color.Yellow("  ttl clamped to %s\n", cfg.Auth.MaxTokenTTL)
		ttl = cfg.Auth.MaxTokenTTL
	}

	s, err := store.OpenSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	identity, err := s.FindIdentityByID(ctx, id)
	if err != nil {
		return fmt.Errorf("finding identity: %w", err)
	}

	tokens, err := auth.NewJWTService(auth.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		DefaultTTL: cfg.Auth.TokenTTL,
		Issuer:     cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	token, err := tokens.Issue(identity, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	gateway.AppendAudit(ctx, s, newLogger(os.Stderr, cfg.Logging), &store.AuditEntry{
		ActorIdentityID: "system",
		Action:          store.AuditIssueToken,
		TargetType:      store.AuditTargetIdentity,
		TargetID:        identity.ID,
		Detail:          map[string]any{"token_id": token.ID, "ttl_seconds": int64(ttl.Seconds())},
	})

	fmt.Println(token.Raw)
	return nil
}

// runHash prints the bcrypt hash of the first line on r.
func runHash(r io.Reader) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return fmt.Errorf("empty secret on stdin")
	}

	cost := config.Default().Auth.BcryptCost
	if cfg, _, err := loadConfig(); err == nil {
		cost = cfg.Auth.BcryptCost
	}
	hash, err := auth.NewBcryptVerifier(cost).HashCredential(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runProbe(ctx context.Context, path string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gatekeeper configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	cfg := config.Default()

	outputFile := prompt(reader, "Config file path (.yaml or .toml)", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = prompt(reader, "gRPC address (empty to disable)", cfg.Server.GRPCAddr)

	fmt.Println("\n--- Database ---")
	cfg.Database.Path = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "gatekeeper.db"))

	fmt.Println("\n--- Auth ---")
	secret, err := randomString(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret
	cfg.Auth.TokenTTLRaw = prompt(reader, "Token lifetime", cfg.Auth.TokenTTLRaw)
	cfg.Auth.AllowRegistration = yes(prompt(reader, "Allow self-registration?", "yes"))

	fmt.Println("\n--- Login throttle ---")
	cfg.Login.Throttle.Backend = prompt(reader, "Backend (memory/redis)", cfg.Login.Throttle.Backend)
	if cfg.Login.Throttle.Backend == "redis" {
		cfg.Login.Throttle.RedisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Tailscale ---")
	cfg.Tailscale.Enabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if cfg.Tailscale.Enabled {
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", "gatekeeper")
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.HTTPS = yes(prompt(reader, "Serve HTTPS with Tailscale certs?", "no"))
		cfg.Tailscale.Funnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	if err := config.Save(outputFile, cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext:")
	fmt.Println("  gatekeeper bootstrap --login you@example.com")
	fmt.Println("  gatekeeper serve")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
