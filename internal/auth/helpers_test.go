// ABOUTME: Shared fixtures for auth tests
// ABOUTME: Provides a fixed clock, a seeded MockStore, and token service constructors

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/2389/gatekeeper/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("gatekeeper-test-secret-32-bytes!")

// t0 is the fixed issuance instant used across tests.
var t0 = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// fakeClock is a settable clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, clock *fakeClock) *JWTService {
	t.Helper()
	svc, err := NewJWTService(TokenConfig{Secret: testSecret, Clock: clock.Now})
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}
	return svc
}

// testCredential is the plaintext secret for every seeded identity.
const testCredential = "correct horse battery staple"

// fixture is a MockStore seeded with roles and identities.
type fixture struct {
	store    *store.MockStore
	verifier *BcryptVerifier
	clock    *fakeClock
	tokens   *JWTService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: t0}
	f := &fixture{
		store:    store.NewMockStore(),
		verifier: NewBcryptVerifier(bcrypt.MinCost),
		clock:    clock,
		tokens:   newTestService(t, clock),
	}
	return f
}

func (f *fixture) role(t *testing.T, name store.RoleName, perms ...string) {
	t.Helper()
	if err := f.store.CreateRole(context.Background(), &store.Role{Name: name, Permissions: perms}); err != nil {
		t.Fatalf("CreateRole(%s) error = %v", name, err)
	}
}

func (f *fixture) identity(t *testing.T, id, loginKey string, roles ...store.RoleName) *store.Identity {
	t.Helper()
	hash, err := f.verifier.HashCredential(testCredential)
	if err != nil {
		t.Fatalf("HashCredential() error = %v", err)
	}
	identity := &store.Identity{
		ID:             id,
		LoginKey:       loginKey,
		CredentialHash: hash,
		Roles:          roles,
	}
	if err := f.store.CreateIdentity(context.Background(), identity); err != nil {
		t.Fatalf("CreateIdentity(%s) error = %v", loginKey, err)
	}
	return identity
}

func (f *fixture) issue(t *testing.T, id string) *Token {
	t.Helper()
	identity, err := f.store.FindIdentityByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindIdentityByID(%s) error = %v", id, err)
	}
	tok, err := f.tokens.Issue(identity, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

func (f *fixture) authenticator() *Authenticator {
	return NewAuthenticator(f.tokens, f.store)
}
