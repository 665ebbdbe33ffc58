// ABOUTME: Unit tests for the login flow
// ABOUTME: Verifies successful login and that every failure is indistinguishable to the caller

package auth

import (
	"context"
	"errors"
	"testing"
)

// countingVerifier records every comparison.
type countingVerifier struct {
	inner  CredentialVerifier
	hashes []string
}

func (c *countingVerifier) VerifyCredential(secret, hash string) bool {
	c.hashes = append(c.hashes, hash)
	return c.inner.VerifyCredential(secret, hash)
}

func TestLoginService_Success(t *testing.T) {
	f := newFixture(t)
	f.role(t, "user")
	f.identity(t, "id-1", "alice", "user")
	svc := NewLoginService(f.store, f.verifier, f.tokens, nil)

	tok, err := svc.Login(context.Background(), " ALICE ", testCredential)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tok.SubjectID != "id-1" {
		t.Errorf("SubjectID = %q, want id-1", tok.SubjectID)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != f.tokens.DefaultTTL() {
		t.Errorf("lifetime = %v, want %v", got, f.tokens.DefaultTTL())
	}

	claims, err := f.tokens.Verify(tok.Raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.SubjectID != "id-1" {
		t.Errorf("claims.SubjectID = %q, want id-1", claims.SubjectID)
	}
}

func TestLoginService_FailureParity(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "id-1", "alice")
	f.identity(t, "id-2", "bob")
	if err := f.store.SetIdentityDisabled(context.Background(), "id-2", true); err != nil {
		t.Fatalf("SetIdentityDisabled() error = %v", err)
	}
	svc := NewLoginService(f.store, f.verifier, f.tokens, nil)

	tests := []struct {
		name     string
		loginKey string
		secret   string
	}{
		{"unknown login key", "mallory", testCredential},
		{"wrong secret", "alice", "wrong"},
		{"disabled identity", "bob", testCredential},
	}

	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := svc.Login(context.Background(), tt.loginKey, tt.secret)
			if tok != nil {
				t.Errorf("Login() token = %+v, want nil", tok)
			}
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
			}
			messages = append(messages, err.Error())
		})
	}
	for _, m := range messages {
		if m != messages[0] {
			t.Errorf("error messages differ: %q vs %q", m, messages[0])
		}
	}
}

func TestLoginService_UnknownKeyStillCompares(t *testing.T) {
	f := newFixture(t)
	counting := &countingVerifier{inner: f.verifier}
	svc := NewLoginService(f.store, counting, f.tokens, nil)

	if _, err := svc.Login(context.Background(), "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}
	if len(counting.hashes) != 1 {
		t.Fatalf("comparisons = %d, want 1", len(counting.hashes))
	}
	if counting.hashes[0] != fallbackDummyHash {
		t.Errorf("compared against %q, want the dummy hash", counting.hashes[0])
	}
}

func TestLoginService_DummyHashMatchesCost(t *testing.T) {
	f := newFixture(t)
	svc := NewLoginService(f.store, f.verifier, f.tokens, nil)
	if svc.dummyHash == fallbackDummyHash {
		t.Fatal("dummy hash should be generated by a verifier that can hash")
	}
}

func TestLoginService_StoreFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("database is locked")
	f.store.SetError(boom)
	svc := NewLoginService(f.store, f.verifier, f.tokens, nil)

	_, err := svc.Login(context.Background(), "alice", testCredential)
	if !errors.Is(err, boom) {
		t.Fatalf("Login() error = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("store failures must not masquerade as bad credentials")
	}
}
