// ABOUTME: First-run setup that seeds the admin and user roles and creates the first administrator
// ABOUTME: Refuses to run once any identity exists so it cannot be used to mint a second admin

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/store"
)

// ErrAlreadyBootstrapped is returned when the store already holds identities.
var ErrAlreadyBootstrapped = errors.New("store already has identities")

// BootstrapParams describes the first administrator.
type BootstrapParams struct {
	LoginKey    string
	DisplayName string
	Secret      string
	// TokenTTL is the lifetime of the printed token; zero uses the issuer default.
	TokenTTL time.Duration
	// Logger receives audit failures. Nil uses slog.Default().
	Logger *slog.Logger
}

// BootstrapResult is what Bootstrap created.
type BootstrapResult struct {
	Identity *store.Identity
	Token    *auth.Token
}

// Bootstrap seeds the built-in roles, creates the first identity holding the
// admin role, and issues a token for it.
func Bootstrap(ctx context.Context, s store.Store, hasher auth.CredentialHasher, issuer auth.TokenIssuer, p BootstrapParams) (*BootstrapResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	count, err := s.CountIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting identities: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w (%d found)", ErrAlreadyBootstrapped, count)
	}

	builtin := []*store.Role{
		{Name: store.RoleAdmin, Description: "Full administrative access", Permissions: store.AdminPermissions},
		{Name: store.RoleUser, Description: "Default role for registered identities"},
	}
	for _, role := range builtin {
		if err := s.CreateRole(ctx, role); err != nil && !errors.Is(err, store.ErrRoleExists) {
			return nil, fmt.Errorf("creating role %s: %w", role.Name, err)
		}
	}

	hash, err := hasher.HashCredential(p.Secret)
	if err != nil {
		return nil, fmt.Errorf("hashing secret: %w", err)
	}

	identity := &store.Identity{
		ID:             uuid.New().String(),
		LoginKey:       p.LoginKey,
		DisplayName:    p.DisplayName,
		CredentialHash: hash,
		Roles:          []store.RoleName{store.RoleAdmin},
	}
	if err := s.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	AppendAudit(ctx, s, logger, &store.AuditEntry{
		ActorIdentityID: identity.ID,
		Action:          store.AuditCreateIdentity,
		TargetType:      store.AuditTargetIdentity,
		TargetID:        identity.ID,
		Detail:          map[string]any{"login_key": identity.LoginKey, "source": "bootstrap"},
	})

	token, err := issuer.Issue(identity, p.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &BootstrapResult{Identity: identity, Token: token}, nil
}
