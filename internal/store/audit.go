// ABOUTME: Audit log entity and store methods for administrative actions
// ABOUTME: Records which identity changed which role or identity, and when

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreateIdentity  AuditAction = "create_identity"
	AuditDisableIdentity AuditAction = "disable_identity"
	AuditEnableIdentity  AuditAction = "enable_identity"
	AuditUpdateIdentity  AuditAction = "update_identity"
	AuditAssignRole      AuditAction = "assign_role"
	AuditUnassignRole    AuditAction = "unassign_role"
	AuditCreateRole      AuditAction = "create_role"
	AuditUpdateRole      AuditAction = "update_role"
	AuditRenameRole      AuditAction = "rename_role"
	AuditDeleteRole      AuditAction = "delete_role"
	AuditIssueToken      AuditAction = "issue_token"
)

// Audit target types.
const (
	AuditTargetIdentity = "identity"
	AuditTargetRole     = "role"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID              string
	ActorIdentityID string // "system" for CLI-initiated changes
	Action          AuditAction
	TargetType      string
	TargetID        string
	Timestamp       time.Time
	Detail          map[string]any
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since           *time.Time
	Until           *time.Time
	ActorIdentityID *string
	Action          *AuditAction
	TargetType      *string
	TargetID        *string
	Limit           int // default 100, max 1000
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	detailJSON, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor_identity_id, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.ActorIdentityID,
		e.Action,
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.ActorIdentityID,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

func marshalDetail(detail map[string]any) (*string, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit detail: %w", err)
	}
	str := string(data)
	return &str, nil
}

const auditLogQuery = `
	SELECT audit_id, actor_identity_id, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR actor_identity_id = ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR target_type = ?)
	  AND (? IS NULL OR target_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, until, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Until != nil {
		v := formatTime(*f.Until)
		until = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		until, until,
		f.ActorIdentityID, f.ActorIdentityID,
		action, action,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var action, ts string
	var detailJSON *string

	if err := scanner.Scan(&e.ID, &e.ActorIdentityID, &action, &e.TargetType, &e.TargetID, &ts, &detailJSON); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(action)
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, err
	}
	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}
