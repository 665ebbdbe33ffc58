// ABOUTME: Store interfaces and data types for gatekeeper persistence
// ABOUTME: Defines Identity and Role records plus the errors shared by every backend

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIdentityNotFound is returned when no identity matches the lookup.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrLoginKeyExists is returned when creating an identity with a login key already in use.
	ErrLoginKeyExists = errors.New("login key already exists")

	// ErrRoleNotFound is returned when a named role does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a role whose name is taken.
	ErrRoleExists = errors.New("role already exists")

	// ErrRoleInUse is returned when deleting or renaming a role that is still
	// assigned to at least one identity.
	ErrRoleInUse = errors.New("role is assigned to identities")

	// ErrInvalidRole is returned for malformed role names or permissions.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidIdentity is returned for malformed identity records.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Identity is an authenticatable principal.
type Identity struct {
	ID             string
	LoginKey       string
	DisplayName    string
	CredentialHash string `json:"-"` // bcrypt hash, never serialized
	Roles          []RoleName
	Disabled       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRole reports whether the identity holds the named role.
func (i *Identity) HasRole(name RoleName) bool {
	for _, r := range i.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// IdentityFilter narrows ListIdentities.
type IdentityFilter struct {
	Role     *RoleName // only identities holding this role
	Disabled *bool
	Limit    int // default 100, max 1000
}

// IdentityStore persists identities and their role assignments.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *Identity) error
	FindIdentityByID(ctx context.Context, id string) (*Identity, error)
	FindIdentityByLoginKey(ctx context.Context, loginKey string) (*Identity, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]*Identity, error)
	CountIdentities(ctx context.Context) (int, error)
	SetIdentityDisabled(ctx context.Context, id string, disabled bool) error
	UpdateCredentialHash(ctx context.Context, id, credentialHash string) error
	UpdateDisplayName(ctx context.Context, id, displayName string) error

	AssignRole(ctx context.Context, identityID string, role RoleName) error
	UnassignRole(ctx context.Context, identityID string, role RoleName) error
}

// RoleStore persists role definitions.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, name RoleName) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	FindRolesByNames(ctx context.Context, names []RoleName) ([]*Role, error)
	UpdateRole(ctx context.Context, name RoleName, role *Role) error
	DeleteRole(ctx context.Context, name RoleName) error
	CountRoleHolders(ctx context.Context, name RoleName) (int, error)
}

// AuditStore records administrative actions.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	IdentityStore
	RoleStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
