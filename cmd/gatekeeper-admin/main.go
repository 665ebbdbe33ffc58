// ABOUTME: Admin CLI for gatekeeper identity and role management
// ABOUTME: Talks to the HTTP API with a bearer token from GATEKEEPER_TOKEN or the saved token file

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/gateway"
)

const banner = `
              _       _                                 _           _
   __ _  __ _| |_ ___| | _____  ___ _ __   ___ _ __    / \   __| |_ __ ___ (_)_ __
  / _' |/ _' | __/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|  / _ \ / _' | '_ ' _ \| | '_ \
 | (_| | (_| | ||  __/   <  __/  __/ |_) |  __/ |    / ___ \ (_| | | | | | | | | | |
  \__, |\__,_|\__\___|_|\_\___|\___| .__/ \___|_|   /_/   \_\__,_|_| |_| |_|_|_| |_|
  |___/                            |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	client := newAPIClient(baseURL(), getToken())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch cmd {
	case "login":
		err = cmdLogin(ctx, client, args)
	case "me":
		err = cmdMe(ctx, client)
	case "status":
		err = cmdStatus(ctx, client)
	case "passwd":
		err = cmdPasswd(ctx, client, os.Stdin)
	case "set-name":
		err = cmdSetName(ctx, client, args)
	case "roles":
		err = cmdRoles(ctx, client)
	case "role-create":
		err = cmdRoleCreate(ctx, client, args)
	case "role-delete":
		err = cmdRoleDelete(ctx, client, args)
	case "identities":
		err = cmdIdentities(ctx, client, args)
	case "assign":
		err = cmdAssign(ctx, client, args, http.MethodPut)
	case "unassign":
		err = cmdAssign(ctx, client, args, http.MethodDelete)
	case "disable":
		err = cmdSetDisabled(ctx, client, args, "disable")
	case "enable":
		err = cmdSetDisabled(ctx, client, args, "enable")
	case "token":
		err = cmdToken(ctx, client, args)
	case "audit":
		err = cmdAudit(ctx, client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: gatekeeper-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login <login-key>            Log in and save the token")
	fmt.Println("  me                           Show your identity, roles and permissions")
	fmt.Println("  status                       Show server status and your identity")
	fmt.Println("  passwd                       Change your password")
	fmt.Println("  set-name <display name>      Change your display name")
	fmt.Println("  roles                        List roles")
	fmt.Println("  role-create <name> [perm...] Create a role")
	fmt.Println("  role-delete <name>           Delete an unused role")
	fmt.Println("  identities [--role R] [--disabled true|false]")
	fmt.Println("                               List identities")
	fmt.Println("  assign <id> <role>           Grant a role")
	fmt.Println("  unassign <id> <role>         Revoke a role")
	fmt.Println("  disable <id>                 Disable an identity")
	fmt.Println("  enable <id>                  Re-enable an identity")
	fmt.Println("  token <id> [--ttl DURATION]  Issue a token for an identity")
	fmt.Println("  audit [--action A] [--limit N]")
	fmt.Println("                               Show the audit log")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  GATEKEEPER_URL     Server URL (default: http://localhost:8080)")
	fmt.Println("  GATEKEEPER_HOST    Server hostname, used as http://HOST when GATEKEEPER_URL is unset")
	fmt.Println("  GATEKEEPER_TOKEN   Bearer token (default: token file next to the server config)")
	fmt.Println()
}

func baseURL() string {
	if u := os.Getenv("GATEKEEPER_URL"); u != "" {
		return u
	}
	if host := os.Getenv("GATEKEEPER_HOST"); host != "" {
		return "http://" + host
	}
	return "http://localhost:8080"
}

func tokenFile() string {
	return filepath.Join(filepath.Dir(config.DefaultPath()), "token")
}

// getToken returns the token from GATEKEEPER_TOKEN or the token file.
func getToken() string {
	if token := os.Getenv("GATEKEEPER_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func requireToken(c *apiClient) error {
	if c.token == "" {
		return errors.New("no token: set GATEKEEPER_TOKEN or run gatekeeper-admin login")
	}
	return nil
}

// flagValue extracts "--name value" from args and returns the remaining args.
func flagValue(args []string, name string) (string, []string, error) {
	rest := make([]string, 0, len(args))
	value := ""
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--"+name:
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--"+name+"="):
			value = strings.TrimPrefix(args[i], "--"+name+"=")
		default:
			rest = append(rest, args[i])
		}
	}
	return value, rest, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatTime(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Local().Format("Jan 02 15:04")
	}
	return s
}

func cmdLogin(ctx context.Context, c *apiClient, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gatekeeper-admin login <login-key>")
	}
	fmt.Printf("Password for %s: ", args[0])
	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		return fmt.Errorf("reading password: %w", err)
	}

	var resp gateway.TokenResponse
	err = c.do(ctx, http.MethodPost, "/api/login", nil, gateway.LoginRequest{
		LoginKey: args[0],
		Secret:   strings.TrimRight(secret, "\r\n"),
	}, &resp)
	if err != nil {
		return err
	}

	path := tokenFile()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(resp.Token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	color.Green("  ✓ Logged in; token saved to %s (expires %s)\n", path, formatTime(resp.ExpiresAt))
	return nil
}

func cmdMe(ctx context.Context, c *apiClient) error {
	if err := requireToken(c); err != nil {
		return err
	}
	var me gateway.MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &me); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  ID:           %s\n", me.Identity.ID)
	fmt.Printf("  Login key:    %s\n", me.Identity.LoginKey)
	if me.Identity.DisplayName != "" {
		fmt.Printf("  Display Name: %s\n", me.Identity.DisplayName)
	}
	if len(me.Identity.Roles) > 0 {
		green.Printf("  Roles:        %s\n", strings.Join(me.Identity.Roles, ", "))
	} else {
		fmt.Printf("  Roles:        (none)\n")
	}
	if len(me.Permissions) > 0 {
		fmt.Printf("  Permissions:  %s\n", strings.Join(me.Permissions, ", "))
	}
	fmt.Println()
	return nil
}

// cmdPasswd reads the current and new password as two lines from in.
func cmdPasswd(ctx context.Context, c *apiClient, in io.Reader) error {
	if err := requireToken(c); err != nil {
		return err
	}
	reader := bufio.NewReader(in)
	readLine := func(label string) (string, error) {
		fmt.Printf("%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	current, err := readLine("Current password")
	if err != nil {
		return err
	}
	next, err := readLine("New password")
	if err != nil {
		return err
	}

	err = c.do(ctx, http.MethodPatch, "/api/me", nil, gateway.UpdateMeRequest{
		CurrentSecret: current,
		NewSecret:     next,
	}, nil)
	if err != nil {
		return err
	}
	color.Green("  ✓ Password changed; existing tokens stay valid until they expire\n")
	return nil
}

func cmdSetName(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("usage: gatekeeper-admin set-name <display name>")
	}
	name := strings.Join(args, " ")

	var identity gateway.IdentityResponse
	if err := c.do(ctx, http.MethodPatch, "/api/me", nil, gateway.UpdateMeRequest{DisplayName: &name}, &identity); err != nil {
		return err
	}
	color.Green("  ✓ Display name set to %q\n", identity.DisplayName)
	return nil
}

func cmdStatus(ctx context.Context, c *apiClient) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		yellow.Printf("  Server:   ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	green.Printf("  Server:   ")
	fmt.Printf("healthy at %s\n", c.baseURL)

	if c.token == "" {
		yellow.Printf("  Identity: ")
		fmt.Println("(no token - set GATEKEEPER_TOKEN or run login)")
		fmt.Println()
		return nil
	}

	var me gateway.MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &me); err != nil {
		yellow.Printf("  Identity: ")
		color.Red("auth failed (%v)\n", err)
	} else {
		green.Printf("  Identity: ")
		fmt.Printf("%s\n", me.Identity.LoginKey)
		green.Printf("  Roles:    ")
		if len(me.Identity.Roles) > 0 {
			fmt.Println(strings.Join(me.Identity.Roles, ", "))
		} else {
			fmt.Println("(none)")
		}
	}
	fmt.Println()
	return nil
}

func cmdRoles(ctx context.Context, c *apiClient) error {
	if err := requireToken(c); err != nil {
		return err
	}
	var resp struct {
		Roles []gateway.RoleResponse `json:"roles"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/roles", nil, nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Roles")
	cyan.Println("  -----")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tPERMISSIONS\tDESCRIPTION")
	fmt.Fprintln(w, "  ----\t-----------\t-----------")
	for _, r := range resp.Roles {
		perms := strings.Join(r.Permissions, ",")
		if perms == "" {
			perms = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", r.Name, truncate(perms, 60), r.Description)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdRoleCreate(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	desc, args, err := flagValue(args, "description")
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return errors.New("usage: gatekeeper-admin role-create <name> [--description D] [perm...]")
	}

	var role gateway.RoleResponse
	err = c.do(ctx, http.MethodPost, "/api/roles", nil, gateway.RoleRequest{
		Name:        args[0],
		Description: desc,
		Permissions: args[1:],
	}, &role)
	if err != nil {
		return err
	}
	color.Green("  ✓ Created role %s\n", role.Name)
	return nil
}

func cmdRoleDelete(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: gatekeeper-admin role-delete <name>")
	}
	if err := c.do(ctx, http.MethodDelete, "/api/roles/"+url.PathEscape(args[0]), nil, nil, nil); err != nil {
		return err
	}
	color.Green("  ✓ Deleted role %s\n", args[0])
	return nil
}

func cmdIdentities(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	query := url.Values{}
	role, args, err := flagValue(args, "role")
	if err != nil {
		return err
	}
	disabled, args, err := flagValue(args, "disabled")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if role != "" {
		query.Set("role", role)
	}
	if disabled != "" {
		query.Set("disabled", disabled)
	}

	var resp struct {
		Identities []gateway.IdentityResponse `json:"identities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/identities", query, nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Identities")
	cyan.Println("  ----------")
	if len(resp.Identities) == 0 {
		fmt.Println("  (no identities)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tLOGIN KEY\tROLES\tSTATUS\tCREATED")
	fmt.Fprintln(w, "  --\t---------\t-----\t------\t-------")
	for _, i := range resp.Identities {
		status := "active"
		if i.Disabled {
			status = "disabled"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			i.ID, truncate(i.LoginKey, 32), strings.Join(i.Roles, ","), status, formatTime(i.CreatedAt))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdAssign(ctx context.Context, c *apiClient, args []string, method string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) != 2 {
		return errors.New("usage: gatekeeper-admin assign|unassign <identity-id> <role>")
	}
	path := "/api/identities/" + url.PathEscape(args[0]) + "/roles/" + url.PathEscape(args[1])
	if err := c.do(ctx, method, path, nil, nil, nil); err != nil {
		return err
	}
	verb := "Assigned"
	if method == http.MethodDelete {
		verb = "Unassigned"
	}
	color.Green("  ✓ %s %s on %s\n", verb, args[1], args[0])
	return nil
}

func cmdSetDisabled(ctx context.Context, c *apiClient, args []string, action string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: gatekeeper-admin %s <identity-id>", action)
	}
	if err := c.do(ctx, http.MethodPost, "/api/identities/"+url.PathEscape(args[0])+"/"+action, nil, nil, nil); err != nil {
		return err
	}
	color.Green("  ✓ %sd %s\n", action, args[0])
	return nil
}

func cmdToken(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	ttlRaw, args, err := flagValue(args, "ttl")
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: gatekeeper-admin token <identity-id> [--ttl DURATION]")
	}

	var req gateway.IssueTokenRequest
	if ttlRaw != "" {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", ttlRaw)
		}
		req.TTLSeconds = int64(ttl.Seconds())
	}

	var resp gateway.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/identities/"+url.PathEscape(args[0])+"/tokens", nil, req, &resp); err != nil {
		return err
	}
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "  expires %s\n", formatTime(resp.ExpiresAt))
	fmt.Println(resp.Token)
	return nil
}

func cmdAudit(ctx context.Context, c *apiClient, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	query := url.Values{}
	for _, name := range []string{"action", "actor", "target_id", "since", "limit"} {
		var v string
		var err error
		v, args, err = flagValue(args, name)
		if err != nil {
			return err
		}
		if v != "" {
			query.Set(name, v)
		}
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if l := query.Get("limit"); l != "" {
		if _, err := strconv.Atoi(l); err != nil {
			return fmt.Errorf("invalid --limit %q", l)
		}
	}

	var resp struct {
		Entries []gateway.AuditEntryResponse `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/audit", query, nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
	fmt.Fprintln(w, "  ----\t-----\t------\t------")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s:%s\n",
			formatTime(e.Timestamp), truncate(e.Actor, 12), e.Action, e.TargetType, truncate(e.TargetID, 24))
	}
	w.Flush()
	return nil
}
