// ABOUTME: Identity entity store methods and role assignment
// ABOUTME: Identities are never hard-deleted; removal is modeled as disabling

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const maxDisplayNameLen = 100

// NormalizeLoginKey lower-cases and trims a login key.
func NormalizeLoginKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// CreateIdentity inserts a new identity along with any initial roles.
// Returns ErrLoginKeyExists if the login key is taken and ErrRoleNotFound if
// an initial role does not exist.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	identity.LoginKey = NormalizeLoginKey(identity.LoginKey)
	if err := validateIdentity(identity); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = identity.CreatedAt
	identity.Roles = dedupeRoleNames(identity.Roles)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (identity_id, login_key, display_name, credential_hash, disabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			identity.ID,
			identity.LoginKey,
			identity.DisplayName,
			identity.CredentialHash,
			identity.Disabled,
			formatTime(identity.CreatedAt),
			formatTime(identity.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrLoginKeyExists
			}
			return fmt.Errorf("inserting identity: %w", err)
		}

		for _, role := range identity.Roles {
			if err := assignRoleTx(ctx, tx, identity.ID, role, identity.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("created identity", "id", identity.ID, "login_key", identity.LoginKey, "roles", len(identity.Roles))
	return nil
}

func validateIdentity(identity *Identity) error {
	switch {
	case identity.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidIdentity)
	case identity.LoginKey == "":
		return fmt.Errorf("%w: login key is required", ErrInvalidIdentity)
	case identity.CredentialHash == "":
		return fmt.Errorf("%w: credential hash is required", ErrInvalidIdentity)
	}
	return ValidateDisplayName(identity.DisplayName)
}

// ValidateDisplayName rejects display names longer than the stored column allows.
func ValidateDisplayName(name string) error {
	if len(name) > maxDisplayNameLen {
		return fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidIdentity, maxDisplayNameLen)
	}
	return nil
}

// FindIdentityByID retrieves an identity and its role names.
// Returns ErrIdentityNotFound if it doesn't exist.
func (s *SQLiteStore) FindIdentityByID(ctx context.Context, id string) (*Identity, error) {
	return s.findIdentity(ctx, "identity_id", id)
}

// FindIdentityByLoginKey retrieves an identity by its (normalized) login key.
// Returns ErrIdentityNotFound if it doesn't exist.
func (s *SQLiteStore) FindIdentityByLoginKey(ctx context.Context, loginKey string) (*Identity, error) {
	return s.findIdentity(ctx, "login_key", NormalizeLoginKey(loginKey))
}

const identityColumns = `identity_id, login_key, display_name, credential_hash, disabled, created_at, updated_at`

func (s *SQLiteStore) findIdentity(ctx context.Context, column, value string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE ` + column + ` = ?`

	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}

	identity.Roles, err = s.listIdentityRoles(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func scanIdentity(scanner interface{ Scan(dest ...any) error }) (*Identity, error) {
	var identity Identity
	var createdAt, updatedAt string
	if err := scanner.Scan(
		&identity.ID,
		&identity.LoginKey,
		&identity.DisplayName,
		&identity.CredentialHash,
		&identity.Disabled,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if identity.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if identity.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &identity, nil
}

// listIdentityRoles returns the role names held by an identity, sorted.
// Returns an empty slice if it holds none.
func (s *SQLiteStore) listIdentityRoles(ctx context.Context, identityID string) ([]RoleName, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_name FROM identity_roles WHERE identity_id = ? ORDER BY role_name`, identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing identity roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, RoleName(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// ListIdentities returns identities matching the filter, ordered by login key.
func (s *SQLiteStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities
		WHERE (? IS NULL OR disabled = ?)
		  AND (? IS NULL OR identity_id IN (SELECT identity_id FROM identity_roles WHERE role_name = ?))
		ORDER BY login_key
		LIMIT ?`

	var role *string
	if filter.Role != nil {
		r := string(*filter.Role)
		role = &r
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.Disabled, filter.Disabled,
		role, role,
		normalizeLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}

	identities := []*Identity{}
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	rows.Close()

	for _, identity := range identities {
		if identity.Roles, err = s.listIdentityRoles(ctx, identity.ID); err != nil {
			return nil, err
		}
	}
	return identities, nil
}

// CountIdentities returns the total number of identities, enabled or not.
func (s *SQLiteStore) CountIdentities(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting identities: %w", err)
	}
	return count, nil
}

// SetIdentityDisabled flips the disabled flag. Disabling takes effect on the
// next request that resolves the identity.
func (s *SQLiteStore) SetIdentityDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET disabled = ?, updated_at = ? WHERE identity_id = ?`,
		disabled, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	if err := requireRow(res, ErrIdentityNotFound); err != nil {
		return err
	}

	s.logger.Info("set identity disabled", "id", id, "disabled", disabled)
	return nil
}

// UpdateCredentialHash replaces the stored credential hash.
func (s *SQLiteStore) UpdateCredentialHash(ctx context.Context, id, credentialHash string) error {
	if credentialHash == "" {
		return fmt.Errorf("%w: credential hash is required", ErrInvalidIdentity)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET credential_hash = ?, updated_at = ? WHERE identity_id = ?`,
		credentialHash, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	if err := requireRow(res, ErrIdentityNotFound); err != nil {
		return err
	}

	s.logger.Info("updated identity credential", "id", id)
	return nil
}

// UpdateDisplayName replaces the identity's display name. An empty name clears it.
func (s *SQLiteStore) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	if err := ValidateDisplayName(displayName); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET display_name = ?, updated_at = ? WHERE identity_id = ?`,
		displayName, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}
	if err := requireRow(res, ErrIdentityNotFound); err != nil {
		return err
	}

	s.logger.Debug("updated display name", "id", id)
	return nil
}

// AssignRole grants a role to an identity. This operation is idempotent -
// assigning a held role succeeds silently.
func (s *SQLiteStore) AssignRole(ctx context.Context, identityID string, role RoleName) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireIdentityTx(ctx, tx, identityID); err != nil {
			return err
		}
		return assignRoleTx(ctx, tx, identityID, role, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	s.logger.Debug("assigned role", "identity_id", identityID, "role", role)
	return nil
}

func assignRoleTx(ctx context.Context, tx *sql.Tx, identityID string, role RoleName, at time.Time) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE name = ?`, role).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, role)
	}
	if err != nil {
		return fmt.Errorf("checking role: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO identity_roles (identity_id, role_name, created_at)
		VALUES (?, ?, ?)
	`, identityID, role, formatTime(at))
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

func requireIdentityTx(ctx context.Context, tx *sql.Tx, identityID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE identity_id = ?`, identityID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return fmt.Errorf("checking identity: %w", err)
	}
	return nil
}

// UnassignRole removes a role from an identity. This operation is idempotent -
// removing a role that isn't held succeeds silently.
func (s *SQLiteStore) UnassignRole(ctx context.Context, identityID string, role RoleName) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireIdentityTx(ctx, tx, identityID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM identity_roles WHERE identity_id = ? AND role_name = ?`, identityID, role,
		)
		if err != nil {
			return fmt.Errorf("unassigning role: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("unassigned role", "identity_id", identityID, "role", role)
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func dedupeRoleNames(in []RoleName) []RoleName {
	seen := make(map[RoleName]struct{}, len(in))
	out := make([]RoleName, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
