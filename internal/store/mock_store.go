// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Mirrors SQLiteStore semantics (role-in-use rejection, idempotent assignment) without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	identities map[string]*Identity // keyed by identity ID
	loginKeys  map[string]string    // login key -> identity ID
	roles      map[RoleName]*Role
	audit      []AuditEntry

	// err, when set, is returned by every method.
	err error
	// lookups counts FindIdentityByID calls.
	lookups int
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities: make(map[string]*Identity),
		loginKeys:  make(map[string]string),
		roles:      make(map[RoleName]*Role),
	}
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Lookups returns how many times FindIdentityByID has been called.
func (m *MockStore) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

func copyIdentity(i *Identity) *Identity {
	c := *i
	c.Roles = append([]RoleName{}, i.Roles...)
	return &c
}

func copyRole(r *Role) *Role {
	c := *r
	c.Permissions = append([]string{}, r.Permissions...)
	return &c
}

// CreateIdentity stores a new identity.
func (m *MockStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	identity.LoginKey = NormalizeLoginKey(identity.LoginKey)
	if err := validateIdentity(identity); err != nil {
		return err
	}
	if _, ok := m.loginKeys[identity.LoginKey]; ok {
		return ErrLoginKeyExists
	}
	identity.Roles = dedupeRoleNames(identity.Roles)
	for _, r := range identity.Roles {
		if _, ok := m.roles[r]; !ok {
			return ErrRoleNotFound
		}
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	identity.UpdatedAt = identity.CreatedAt

	m.identities[identity.ID] = copyIdentity(identity)
	m.loginKeys[identity.LoginKey] = identity.ID
	return nil
}

// FindIdentityByID retrieves an identity by ID.
func (m *MockStore) FindIdentityByID(ctx context.Context, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	i, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(i), nil
}

// FindIdentityByLoginKey retrieves an identity by login key.
func (m *MockStore) FindIdentityByLoginKey(ctx context.Context, loginKey string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	id, ok := m.loginKeys[NormalizeLoginKey(loginKey)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(m.identities[id]), nil
}

// ListIdentities returns identities matching the filter, ordered by login key.
func (m *MockStore) ListIdentities(ctx context.Context, filter IdentityFilter) ([]*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	result := []*Identity{}
	for _, i := range m.identities {
		if filter.Disabled != nil && i.Disabled != *filter.Disabled {
			continue
		}
		if filter.Role != nil && !i.HasRole(*filter.Role) {
			continue
		}
		result = append(result, copyIdentity(i))
	}
	sort.Slice(result, func(a, b int) bool { return result[a].LoginKey < result[b].LoginKey })

	if limit := normalizeLimit(filter.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountIdentities returns the number of identities.
func (m *MockStore) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.identities), nil
}

// SetIdentityDisabled flips the disabled flag.
func (m *MockStore) SetIdentityDisabled(ctx context.Context, id string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	i, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	i.Disabled = disabled
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCredentialHash replaces the stored hash.
func (m *MockStore) UpdateCredentialHash(ctx context.Context, id, credentialHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	i, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	i.CredentialHash = credentialHash
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateDisplayName replaces the display name.
func (m *MockStore) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if err := ValidateDisplayName(displayName); err != nil {
		return err
	}
	i, ok := m.identities[id]
	if !ok {
		return ErrIdentityNotFound
	}
	i.DisplayName = displayName
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// AssignRole grants a role; assigning a held role is a no-op.
func (m *MockStore) AssignRole(ctx context.Context, identityID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	i, ok := m.identities[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	if _, ok := m.roles[role]; !ok {
		return ErrRoleNotFound
	}
	if !i.HasRole(role) {
		i.Roles = dedupeRoleNames(append(i.Roles, role))
	}
	return nil
}

// UnassignRole removes a role; removing an absent role is a no-op.
func (m *MockStore) UnassignRole(ctx context.Context, identityID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	i, ok := m.identities[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	kept := i.Roles[:0]
	for _, r := range i.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	i.Roles = kept
	return nil
}

// CreateRole stores a new role.
func (m *MockStore) CreateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if err := ValidateRoleName(role.Name); err != nil {
		return err
	}
	perms, err := NormalizePermissions(role.Permissions)
	if err != nil {
		return err
	}
	if _, ok := m.roles[role.Name]; ok {
		return ErrRoleExists
	}
	role.Permissions = perms
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	role.UpdatedAt = role.CreatedAt
	m.roles[role.Name] = copyRole(role)
	return nil
}

// GetRole retrieves a role by name.
func (m *MockStore) GetRole(ctx context.Context, name RoleName) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	r, ok := m.roles[name]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return copyRole(r), nil
}

// ListRoles returns all roles ordered by name.
func (m *MockStore) ListRoles(ctx context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	result := make([]*Role, 0, len(m.roles))
	for _, r := range m.roles {
		result = append(result, copyRole(r))
	}
	sort.Slice(result, func(a, b int) bool { return result[a].Name < result[b].Name })
	return result, nil
}

// FindRolesByNames returns the named roles that exist, ordered by name.
func (m *MockStore) FindRolesByNames(ctx context.Context, names []RoleName) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	result := []*Role{}
	for _, n := range dedupeRoleNames(names) {
		if r, ok := m.roles[n]; ok {
			result = append(result, copyRole(r))
		}
	}
	return result, nil
}

// UpdateRole replaces description and permissions, renaming the role first
// when role.Name differs from name. Nothing changes if any step fails.
func (m *MockStore) UpdateRole(ctx context.Context, name RoleName, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if role.Name == "" {
		role.Name = name
	}
	perms, err := NormalizePermissions(role.Permissions)
	if err != nil {
		return err
	}
	existing, ok := m.roles[name]
	if role.Name != name {
		if err := ValidateRoleName(role.Name); err != nil {
			return err
		}
		if m.holdersLocked(name) > 0 {
			return ErrRoleInUse
		}
		if !ok {
			return ErrRoleNotFound
		}
		if _, taken := m.roles[role.Name]; taken {
			return ErrRoleExists
		}
	}
	if !ok {
		return ErrRoleNotFound
	}

	if role.Name != name {
		delete(m.roles, name)
		existing.Name = role.Name
		m.roles[role.Name] = existing
	}
	existing.Description = role.Description
	existing.Permissions = perms
	existing.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	role.Permissions = perms
	role.UpdatedAt = existing.UpdatedAt
	return nil
}

// DeleteRole deletes an unreferenced role.
func (m *MockStore) DeleteRole(ctx context.Context, name RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if m.holdersLocked(name) > 0 {
		return ErrRoleInUse
	}
	if _, ok := m.roles[name]; !ok {
		return ErrRoleNotFound
	}
	delete(m.roles, name)
	return nil
}

// CountRoleHolders returns how many identities hold the role.
func (m *MockStore) CountRoleHolders(ctx context.Context, name RoleName) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.holdersLocked(name), nil
}

func (m *MockStore) holdersLocked(name RoleName) int {
	n := 0
	for _, i := range m.identities {
		if i.HasRole(name) {
			n++
		}
	}
	return n
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns entries newest first, honoring the same filters as
// SQLiteStore. Since and Until are inclusive.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	result := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.ActorIdentityID != nil && e.ActorIdentityID != *f.ActorIdentityID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		result = append(result, e)
		if len(result) == normalizeLimit(f.Limit) {
			break
		}
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
