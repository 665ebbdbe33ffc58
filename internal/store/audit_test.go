// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		ActorIdentityID: "identity-123",
		Action:          AuditAssignRole,
		TargetType:      AuditTargetIdentity,
		TargetID:        "identity-456",
		Detail:          map[string]any{"role": "editor"},
	}

	require.NoError(t, store.AppendAuditLog(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "editor", entries[0].Detail["role"])
}

func seedAudit(t *testing.T, s Store, base time.Time) {
	t.Helper()
	ctx := context.Background()
	entries := []AuditEntry{
		{ActorIdentityID: "alice", Action: AuditCreateRole, TargetType: AuditTargetRole, TargetID: "editor"},
		{ActorIdentityID: "alice", Action: AuditAssignRole, TargetType: AuditTargetIdentity, TargetID: "bob"},
		{ActorIdentityID: "system", Action: AuditDisableIdentity, TargetType: AuditTargetIdentity, TargetID: "bob"},
	}
	for i := range entries {
		e := entries[i]
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendAuditLog(ctx, &e))
	}
}

func TestAuditStore_ListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedAudit(t, store, base)

	all, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, AuditDisableIdentity, all[0].Action, "newest first")
	assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Minute)))

	actor := "alice"
	byActor, err := store.ListAuditLog(ctx, AuditFilter{ActorIdentityID: &actor})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	action := AuditAssignRole
	byAction, err := store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "bob", byAction[0].TargetID)

	targetType := AuditTargetIdentity
	targetID := "bob"
	byTarget, err := store.ListAuditLog(ctx, AuditFilter{TargetType: &targetType, TargetID: &targetID})
	require.NoError(t, err)
	assert.Len(t, byTarget, 2)

	since := base.Add(time.Minute)
	until := base.Add(time.Minute)
	window, err := store.ListAuditLog(ctx, AuditFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, AuditAssignRole, window[0].Action)

	limited, err := store.ListAuditLog(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAuditStore_ListEmpty(t *testing.T) {
	store := setupTestStore(t)

	entries, err := store.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
