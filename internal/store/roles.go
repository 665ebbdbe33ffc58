// ABOUTME: Role entity and store methods for authorization
// ABOUTME: Roles bundle permission strings; referenced roles cannot be renamed or deleted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// RoleName identifies a role. Names are case-sensitive.
type RoleName string

// Well-known roles created by bootstrap.
const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// Permissions understood by the administrative API.
const (
	PermRolesRead       = "roles:read"
	PermRolesWrite      = "roles:write"
	PermIdentitiesRead  = "identities:read"
	PermIdentitiesWrite = "identities:write"
	PermTokensIssue     = "tokens:issue"
	PermAuditRead       = "audit:read"
)

// AdminPermissions is the permission set granted to the bootstrap admin role.
var AdminPermissions = []string{
	PermAuditRead,
	PermIdentitiesRead,
	PermIdentitiesWrite,
	PermRolesRead,
	PermRolesWrite,
	PermTokensIssue,
}

const (
	maxRoleNameLen   = 64
	maxPermissionLen = 128
)

// Role is a named bundle of permissions.
type Role struct {
	Name        RoleName
	Description string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateRoleName checks that a role name is non-empty, bounded, and free of whitespace.
func ValidateRoleName(name RoleName) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	if len(name) > maxRoleNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRole, maxRoleNameLen)
	}
	if strings.IndexFunc(string(name), unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: name must not contain whitespace", ErrInvalidRole)
	}
	return nil
}

// NormalizePermissions validates permission strings and returns them
// deduplicated and sorted. A nil input yields an empty slice.
func NormalizePermissions(perms []string) ([]string, error) {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p == "" {
			return nil, fmt.Errorf("%w: empty permission", ErrInvalidRole)
		}
		if len(p) > maxPermissionLen {
			return nil, fmt.Errorf("%w: permission %q exceeds %d characters", ErrInvalidRole, p, maxPermissionLen)
		}
		if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("%w: permission %q contains whitespace", ErrInvalidRole, p)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// CreateRole inserts a role and its permissions.
// Returns ErrRoleExists if the name is taken.
func (s *SQLiteStore) CreateRole(ctx context.Context, role *Role) error {
	if err := ValidateRoleName(role.Name); err != nil {
		return err
	}
	perms, err := NormalizePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = role.CreatedAt
	role.Permissions = perms

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO roles (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			role.Name, role.Description, formatTime(role.CreatedAt), formatTime(role.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrRoleExists
			}
			return fmt.Errorf("inserting role: %w", err)
		}
		return insertPermissions(ctx, tx, role.Name, perms)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created role", "role", role.Name, "permissions", len(perms))
	return nil
}

func insertPermissions(ctx context.Context, tx *sql.Tx, name RoleName, perms []string) error {
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_name, permission) VALUES (?, ?)`, name, p,
		); err != nil {
			return fmt.Errorf("inserting permission %q: %w", p, err)
		}
	}
	return nil
}

// GetRole retrieves a role with its permissions.
// Returns ErrRoleNotFound if it doesn't exist.
func (s *SQLiteStore) GetRole(ctx context.Context, name RoleName) (*Role, error) {
	roles, err := s.FindRolesByNames(ctx, []RoleName{name})
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, ErrRoleNotFound
	}
	return roles[0], nil
}

// ListRoles returns every role ordered by name. Returns an empty slice if
// there are none.
func (s *SQLiteStore) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.queryRoles(ctx,
		`SELECT name, description, created_at, updated_at FROM roles ORDER BY name`,
		`SELECT role_name, permission FROM role_permissions ORDER BY role_name, permission`,
	)
}

// FindRolesByNames returns the live definitions of the named roles, ordered by
// name. Names with no matching role are omitted rather than reported.
func (s *SQLiteStore) FindRolesByNames(ctx context.Context, names []RoleName) ([]*Role, error) {
	if len(names) == 0 {
		return []*Role{}, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = string(n)
	}
	in := placeholders(len(names))
	return s.queryRoles(ctx,
		`SELECT name, description, created_at, updated_at FROM roles WHERE name IN (`+in+`) ORDER BY name`,
		`SELECT role_name, permission FROM role_permissions WHERE role_name IN (`+in+`) ORDER BY role_name, permission`,
		args...,
	)
}

// queryRoles runs a role query and a matching permission query with the same
// arguments, then stitches permissions onto their roles.
func (s *SQLiteStore) queryRoles(ctx context.Context, roleQuery, permQuery string, args ...any) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, roleQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	byName := make(map[RoleName]*Role)
	for rows.Next() {
		var r Role
		var name, createdAt, updatedAt string
		if err := rows.Scan(&name, &r.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		r.Name = RoleName(name)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		r.Permissions = []string{}
		roles = append(roles, &r)
		byName[r.Name] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	if len(roles) == 0 {
		return roles, nil
	}

	permRows, err := s.db.QueryContext(ctx, permQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying role permissions: %w", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		var name, perm string
		if err := permRows.Scan(&name, &perm); err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		if r, ok := byName[RoleName(name)]; ok {
			r.Permissions = append(r.Permissions, perm)
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}

	return roles, nil
}

// UpdateRole replaces the description and permission set of the role stored
// under name. When role.Name is set and differs from name the role is also
// renamed, in the same transaction; only roles held by no identity can be
// renamed, otherwise ErrRoleInUse is returned and nothing changes.
func (s *SQLiteStore) UpdateRole(ctx context.Context, name RoleName, role *Role) error {
	if role.Name == "" {
		role.Name = name
	}
	if role.Name != name {
		if err := ValidateRoleName(role.Name); err != nil {
			return err
		}
	}
	perms, err := NormalizePermissions(role.Permissions)
	if err != nil {
		return err
	}
	role.Permissions = perms
	role.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if role.Name != name {
			if err := renameRoleTx(ctx, tx, name, role.Name, role.UpdatedAt); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE roles SET description = ?, updated_at = ? WHERE name = ?`,
			role.Description, formatTime(role.UpdatedAt), role.Name,
		)
		if err != nil {
			return fmt.Errorf("updating role: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		} else if n == 0 {
			return ErrRoleNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_name = ?`, role.Name); err != nil {
			return fmt.Errorf("clearing role permissions: %w", err)
		}
		return insertPermissions(ctx, tx, role.Name, perms)
	})
	if err != nil {
		return err
	}

	if role.Name != name {
		s.logger.Info("renamed role", "from", name, "to", role.Name)
	}
	s.logger.Debug("updated role", "role", role.Name, "permissions", len(perms))
	return nil
}

func renameRoleTx(ctx context.Context, tx *sql.Tx, from, to RoleName, at time.Time) error {
	if err := ensureUnreferenced(ctx, tx, from); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE roles SET name = ?, updated_at = ? WHERE name = ?`,
		to, formatTime(at), from,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrRoleExists
		case isForeignKeyViolation(err):
			return ErrRoleInUse
		}
		return fmt.Errorf("renaming role: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// DeleteRole removes a role. Deletion of a role that is still assigned is
// rejected with ErrRoleInUse; callers must unassign it first.
func (s *SQLiteStore) DeleteRole(ctx context.Context, name RoleName) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureUnreferenced(ctx, tx, name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrRoleInUse
			}
			return fmt.Errorf("deleting role: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		} else if n == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("deleted role", "role", name)
	return nil
}

func ensureUnreferenced(ctx context.Context, tx *sql.Tx, name RoleName) error {
	var holders int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identity_roles WHERE role_name = ?`, name,
	).Scan(&holders)
	if err != nil {
		return fmt.Errorf("counting role holders: %w", err)
	}
	if holders > 0 {
		return fmt.Errorf("%w: %d holder(s)", ErrRoleInUse, holders)
	}
	return nil
}

// CountRoleHolders returns how many identities hold the role.
func (s *SQLiteStore) CountRoleHolders(ctx context.Context, name RoleName) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM identity_roles WHERE role_name = ?`, name,
	).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("counting role holders: %w", err)
	}
	return count, nil
}
