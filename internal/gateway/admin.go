// ABOUTME: Administrative HTTP handlers for roles, identities, token issuance, and the audit log
// ABOUTME: Every mutation appends an audit entry naming the acting identity

package gateway

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/store"
)

// RoleRequest is the JSON body for POST /api/roles and PUT /api/roles/{name}.
// On PUT, a Name different from the path renames the role.
type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// IssueTokenRequest is the JSON body for POST /api/identities/{id}/tokens.
type IssueTokenRequest struct {
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// writeStoreError maps store sentinels onto HTTP statuses.
func (g *Gateway) writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrIdentityNotFound):
		sendJSONError(w, http.StatusNotFound, "identity not found")
	case errors.Is(err, store.ErrRoleNotFound):
		sendJSONError(w, http.StatusNotFound, "role not found")
	case errors.Is(err, store.ErrRoleExists):
		sendJSONError(w, http.StatusConflict, "role already exists")
	case errors.Is(err, store.ErrRoleInUse):
		sendJSONError(w, http.StatusConflict, "role in use")
	case errors.Is(err, store.ErrInvalidRole), errors.Is(err, store.ErrInvalidIdentity):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("store operation failed", "op", op, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleListRoles handles GET /api/roles.
func (g *Gateway) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := g.store.ListRoles(r.Context())
	if err != nil {
		g.writeStoreError(w, err, "list roles")
		return
	}
	resp := make([]RoleResponse, len(roles))
	for i, role := range roles {
		resp[i] = toRoleResponse(role)
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": resp})
}

// handleGetRole handles GET /api/roles/{name}. The response includes how many
// identities hold the role.
func (g *Gateway) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := g.store.GetRole(r.Context(), store.RoleName(r.PathValue("name")))
	if err != nil {
		g.writeStoreError(w, err, "get role")
		return
	}
	holders, err := g.store.CountRoleHolders(r.Context(), role.Name)
	if err != nil {
		g.writeStoreError(w, err, "count role holders")
		return
	}
	resp := toRoleResponse(role)
	resp.Holders = &holders
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateRole handles POST /api/roles.
func (g *Gateway) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role := &store.Role{
		Name:        store.RoleName(req.Name),
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := g.store.CreateRole(r.Context(), role); err != nil {
		g.writeStoreError(w, err, "create role")
		return
	}

	g.audit(r, store.AuditCreateRole, store.AuditTargetRole, string(role.Name), map[string]any{"permissions": role.Permissions})
	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

// handleUpdateRole handles PUT /api/roles/{name}.
// A rename and the new permissions are stored together or not at all.
func (g *Gateway) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	name := store.RoleName(r.PathValue("name"))

	role := &store.Role{
		Name:        store.RoleName(req.Name),
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := g.store.UpdateRole(ctx, name, role); err != nil {
		if errors.Is(err, store.ErrRoleInUse) {
			g.writeRoleInUse(w, r, name)
			return
		}
		g.writeStoreError(w, err, "update role")
		return
	}

	if role.Name != name {
		g.audit(r, store.AuditRenameRole, store.AuditTargetRole, string(role.Name), map[string]any{"from": string(name)})
	}
	g.audit(r, store.AuditUpdateRole, store.AuditTargetRole, string(role.Name), map[string]any{"permissions": role.Permissions})

	updated, err := g.store.GetRole(ctx, role.Name)
	if err != nil {
		g.writeStoreError(w, err, "get role")
		return
	}
	writeJSON(w, http.StatusOK, toRoleResponse(updated))
}

// handleDeleteRole handles DELETE /api/roles/{name}.
// Roles still assigned to an identity are rejected with 409.
func (g *Gateway) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	name := store.RoleName(r.PathValue("name"))
	if err := g.store.DeleteRole(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrRoleInUse) {
			g.writeRoleInUse(w, r, name)
			return
		}
		g.writeStoreError(w, err, "delete role")
		return
	}
	g.audit(r, store.AuditDeleteRole, store.AuditTargetRole, string(name), nil)
	w.WriteHeader(http.StatusNoContent)
}

// writeRoleInUse reports a 409 along with how many identities still hold the role.
func (g *Gateway) writeRoleInUse(w http.ResponseWriter, r *http.Request, name store.RoleName) {
	body := map[string]any{"error": "role in use"}
	if holders, err := g.store.CountRoleHolders(r.Context(), name); err == nil {
		body["holders"] = holders
	} else {
		g.logger.Warn("failed to count role holders", "role", name, "error", err)
	}
	writeJSON(w, http.StatusConflict, body)
}

// handleListIdentities handles GET /api/identities.
// Supports ?role=, ?disabled=true|false and ?limit= filters.
func (g *Gateway) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.IdentityFilter

	if v := q.Get("role"); v != "" {
		role := store.RoleName(v)
		filter.Role = &role
	}
	if v := q.Get("disabled"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid disabled parameter")
			return
		}
		filter.Disabled = &disabled
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			sendJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	identities, err := g.store.ListIdentities(r.Context(), filter)
	if err != nil {
		g.writeStoreError(w, err, "list identities")
		return
	}
	resp := make([]IdentityResponse, len(identities))
	for i, identity := range identities {
		resp[i] = toIdentityResponse(identity)
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": resp})
}

// handleGetIdentity handles GET /api/identities/{id}.
func (g *Gateway) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := g.store.FindIdentityByID(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeStoreError(w, err, "get identity")
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// handleAssignRole handles PUT /api/identities/{id}/roles/{role}. Idempotent.
func (g *Gateway) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	id, role := r.PathValue("id"), store.RoleName(r.PathValue("role"))
	if err := g.store.AssignRole(r.Context(), id, role); err != nil {
		g.writeStoreError(w, err, "assign role")
		return
	}
	g.audit(r, store.AuditAssignRole, store.AuditTargetIdentity, id, map[string]any{"role": string(role)})
	w.WriteHeader(http.StatusNoContent)
}

// handleUnassignRole handles DELETE /api/identities/{id}/roles/{role}. Idempotent.
func (g *Gateway) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	id, role := r.PathValue("id"), store.RoleName(r.PathValue("role"))
	if err := g.store.UnassignRole(r.Context(), id, role); err != nil {
		g.writeStoreError(w, err, "unassign role")
		return
	}
	g.audit(r, store.AuditUnassignRole, store.AuditTargetIdentity, id, map[string]any{"role": string(role)})
	w.WriteHeader(http.StatusNoContent)
}

// handleSetDisabled returns the handler for POST /api/identities/{id}/disable and /enable.
func (g *Gateway) handleSetDisabled(disabled bool) http.HandlerFunc {
	action := store.AuditEnableIdentity
	if disabled {
		action = store.AuditDisableIdentity
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := g.store.SetIdentityDisabled(r.Context(), id, disabled); err != nil {
			g.writeStoreError(w, err, string(action))
			return
		}
		g.audit(r, action, store.AuditTargetIdentity, id, nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleIssueToken handles POST /api/identities/{id}/tokens.
// The requested lifetime is clamped to auth.max_token_ttl.
func (g *Gateway) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		sendJSONError(w, http.StatusBadRequest, "ttl_seconds must not be negative")
		return
	}

	maxTTL := g.config.Auth.MaxTokenTTL
	ttl := g.tokens.DefaultTTL()
	if req.TTLSeconds > 0 {
		// Clamp in seconds first so the multiplication cannot overflow.
		limit := int64(math.MaxInt64 / int64(time.Second))
		if maxTTL > 0 {
			limit = int64(maxTTL / time.Second)
		}
		ttl = time.Duration(min(req.TTLSeconds, limit)) * time.Second
	}
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}

	id := r.PathValue("id")
	identity, err := g.store.FindIdentityByID(r.Context(), id)
	if err != nil {
		g.writeStoreError(w, err, "find identity")
		return
	}

	token, err := g.tokens.Issue(identity, ttl)
	if errors.Is(err, auth.ErrIdentityDisabled) {
		sendJSONError(w, http.StatusConflict, "identity disabled")
		return
	}
	if err != nil {
		g.logger.Error("failed to issue token", "error", err, "identity_id", id)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.audit(r, store.AuditIssueToken, store.AuditTargetIdentity, id, map[string]any{
		"token_id":    token.ID,
		"ttl_seconds": int64(ttl.Seconds()),
		"expires_at":  token.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, toTokenResponse(token))
}

// AuditEntryResponse is the JSON form of an audit entry.
type AuditEntryResponse struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Timestamp  string         `json:"timestamp"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// handleListAudit handles GET /api/audit.
// Filters: actor, action, target_type, target_id, since, until (RFC3339), limit.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.AuditFilter

	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	f.ActorIdentityID = optional("actor")
	f.TargetType = optional("target_type")
	f.TargetID = optional("target_id")
	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		f.Action = &action
	}

	for key, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid "+key+" parameter (want RFC3339)")
			return
		}
		*dst = &t
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			sendJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		f.Limit = limit
	}

	entries, err := g.store.ListAuditLog(r.Context(), f)
	if err != nil {
		g.writeStoreError(w, err, "list audit log")
		return
	}
	resp := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = AuditEntryResponse{
			ID:         e.ID,
			Actor:      e.ActorIdentityID,
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Detail:     e.Detail,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}
