// ABOUTME: End-to-end scenarios across issuer, verifier, resolver, and evaluator
// ABOUTME: Covers the editor scenario and revocation through disablement and role edits

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/gatekeeper/internal/store"
)

func TestScenario_Editor(t *testing.T) {
	f := newFixture(t)
	f.role(t, "editor", "write")
	f.identity(t, "U1", "u1", "editor")
	tok := f.issue(t, "U1")

	ac, err := f.authenticator().Authenticate(context.Background(), tok.Raw)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := Authorize(ac, Requirement{Mode: ModeAny, Items: []string{"admin", "write"}}); err != nil {
		t.Errorf("ANY[admin write] error = %v, want allowed", err)
	}

	err = Authorize(ac, Requirement{Mode: ModeAll, Items: []string{"write", "publish"}})
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("ALL[write publish] error = %v, want *PermissionDeniedError", err)
	}
	if denied.Missing != "publish" {
		t.Errorf("Missing = %q, want publish", denied.Missing)
	}
}

func TestScenario_DisableAfterIssue(t *testing.T) {
	f := newFixture(t)
	f.role(t, "user")
	f.identity(t, "id-1", "alice", "user")
	tok := f.issue(t, "id-1")
	a := f.authenticator()

	if _, err := a.Authenticate(context.Background(), tok.Raw); err != nil {
		t.Fatalf("Authenticate() before disable error = %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	if err := f.store.SetIdentityDisabled(context.Background(), "id-1", true); err != nil {
		t.Fatalf("SetIdentityDisabled() error = %v", err)
	}

	// The token itself is still valid.
	if _, err := f.tokens.Verify(tok.Raw); err != nil {
		t.Fatalf("Verify() after disable error = %v, want nil", err)
	}
	if _, err := a.Authenticate(context.Background(), tok.Raw); !errors.Is(err, ErrIdentityDisabled) {
		t.Fatalf("Authenticate() after disable error = %v, want ErrIdentityDisabled", err)
	}

	// Re-enabling restores access with the same token.
	if err := f.store.SetIdentityDisabled(context.Background(), "id-1", false); err != nil {
		t.Fatalf("SetIdentityDisabled() error = %v", err)
	}
	if _, err := a.Authenticate(context.Background(), tok.Raw); err != nil {
		t.Fatalf("Authenticate() after enable error = %v", err)
	}
}

func TestScenario_RoleEditsTakeEffectNextRequest(t *testing.T) {
	f := newFixture(t)
	f.role(t, "editor", "write")
	f.identity(t, "id-1", "alice", "editor")
	tok := f.issue(t, "id-1")

	chain := HTTPAuthMiddleware(f.authenticator(), nil)(RequireHTTP(All("publish"), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	))
	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/publish", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Raw)
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(); code != http.StatusForbidden {
		t.Fatalf("before grant status = %d, want 403", code)
	}

	if err := f.store.UpdateRole(context.Background(), "editor", &store.Role{Name: "editor", Permissions: []string{"write", "publish"}}); err != nil {
		t.Fatalf("UpdateRole() error = %v", err)
	}
	if code := do(); code != http.StatusNoContent {
		t.Fatalf("after grant status = %d, want 204", code)
	}

	if err := f.store.UnassignRole(context.Background(), "id-1", "editor"); err != nil {
		t.Fatalf("UnassignRole() error = %v", err)
	}
	if code := do(); code != http.StatusForbidden {
		t.Fatalf("after unassign status = %d, want 403", code)
	}
}

func TestScenario_LoginParityOverHTTPStatus(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	svc := NewLoginService(f.store, f.verifier, f.tokens, nil)

	_, wrongSecret := svc.Login(context.Background(), "alice", "nope")
	_, unknownKey := svc.Login(context.Background(), "nobody", testCredential)

	if wrongSecret == nil || unknownKey == nil {
		t.Fatal("both logins must fail")
	}
	if wrongSecret.Error() != unknownKey.Error() {
		t.Errorf("messages differ: %q vs %q", wrongSecret, unknownKey)
	}
	if !errors.Is(wrongSecret, ErrInvalidCredentials) || !errors.Is(unknownKey, ErrInvalidCredentials) {
		t.Errorf("errors = %v / %v, want ErrInvalidCredentials", wrongSecret, unknownKey)
	}
}
