// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the resolved identity via context

package auth

import (
	"context"
	"sort"

	"github.com/2389/gatekeeper/internal/store"
)

// AuthContext holds the identity resolved for the current request along with
// the live definitions of its roles. It is built per request and never cached.
type AuthContext struct {
	Identity *store.Identity
	Roles    []*store.Role
	Claims   *Claims
}

// IdentityID returns the authenticated identity's ID.
func (a *AuthContext) IdentityID() string {
	return a.Identity.ID
}

// RoleNames returns the names of the live roles, sorted.
func (a *AuthContext) RoleNames() []store.RoleName {
	names := make([]store.RoleName, len(a.Roles))
	for i, r := range a.Roles {
		names[i] = r.Name
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Permissions returns the union of permissions across the live roles, sorted.
func (a *AuthContext) Permissions() []string {
	seen := make(map[string]struct{})
	perms := []string{}
	for _, r := range a.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	sort.Strings(perms)
	return perms
}

// held returns the set of role names and permissions the identity holds.
func (a *AuthContext) held() map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range a.Roles {
		set[string(r.Name)] = struct{}{}
		for _, p := range r.Permissions {
			set[p] = struct{}{}
		}
	}
	return set
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
