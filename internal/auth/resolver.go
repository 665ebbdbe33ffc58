// ABOUTME: Identity resolution from a verified subject to a live AuthContext
// ABOUTME: Reads current identity state and role definitions from the repository on every call

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/gatekeeper/internal/store"
)

// IdentityRepository is the narrow read interface the auth core needs.
// store.SQLiteStore and store.MockStore both satisfy it.
type IdentityRepository interface {
	FindIdentityByID(ctx context.Context, id string) (*store.Identity, error)
	FindIdentityByLoginKey(ctx context.Context, loginKey string) (*store.Identity, error)
	FindRolesByNames(ctx context.Context, names []store.RoleName) ([]*store.Role, error)
}

// Resolver turns a subject ID into an AuthContext.
type Resolver struct {
	repo IdentityRepository
}

// NewResolver creates a resolver backed by repo.
func NewResolver(repo IdentityRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve loads the identity and its live roles. Disabled identities fail
// with ErrIdentityDisabled regardless of any token they hold.
func (r *Resolver) Resolve(ctx context.Context, subjectID string) (*AuthContext, error) {
	identity, err := r.repo.FindIdentityByID(ctx, subjectID)
	if errors.Is(err, store.ErrIdentityNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}
	if identity.Disabled {
		return nil, ErrIdentityDisabled
	}

	roles, err := r.repo.FindRolesByNames(ctx, identity.Roles)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}

	return &AuthContext{
		Identity: identity,
		Roles:    roles,
	}, nil
}
