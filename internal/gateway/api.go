// ABOUTME: HTTP API handlers for registration, login, logout, and the caller's own identity
// ABOUTME: Defines the JSON request and response shapes shared by every API handler

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/metrics"
	"github.com/2389/gatekeeper/internal/store"
)

// minSecretLength is the shortest secret accepted at registration.
const minSecretLength = 8

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	LoginKey    string `json:"login_key"`
	Secret      string `json:"secret"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	LoginKey string `json:"login_key"`
	Secret   string `json:"secret"`
}

// TokenResponse is returned by login and token issuance.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// IdentityResponse is the JSON form of an identity. The credential hash is never included.
type IdentityResponse struct {
	ID          string   `json:"id"`
	LoginKey    string   `json:"login_key"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	Disabled    bool     `json:"disabled"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// RoleResponse is the JSON form of a role.
type RoleResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Holders     *int     `json:"holders,omitempty"` // set by GET /api/roles/{name}
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// UpdateMeRequest is the JSON request body for PATCH /api/me.
type UpdateMeRequest struct {
	DisplayName   *string `json:"display_name,omitempty"`
	CurrentSecret string  `json:"current_secret,omitempty"`
	NewSecret     string  `json:"new_secret,omitempty"`
}

// MeResponse is the JSON response for GET /api/me.
type MeResponse struct {
	Identity    IdentityResponse `json:"identity"`
	Roles       []RoleResponse   `json:"roles"`
	Permissions []string         `json:"permissions"`
}

func toIdentityResponse(i *store.Identity) IdentityResponse {
	roles := make([]string, len(i.Roles))
	for n, r := range i.Roles {
		roles[n] = string(r)
	}
	return IdentityResponse{
		ID:          i.ID,
		LoginKey:    i.LoginKey,
		DisplayName: i.DisplayName,
		Roles:       roles,
		Disabled:    i.Disabled,
		CreatedAt:   i.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   i.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRoleResponse(r *store.Role) RoleResponse {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return RoleResponse{
		Name:        string(r.Name),
		Description: r.Description,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toTokenResponse(t *auth.Token) TokenResponse {
	return TokenResponse{Token: t.Raw, ExpiresAt: t.ExpiresAt.UTC().Format(time.RFC3339)}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// clientIP returns the remote host without port. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// audit appends an entry naming the authenticated caller, or "anonymous".
func (g *Gateway) audit(r *http.Request, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	actor := "anonymous"
	if ac := auth.FromContext(r.Context()); ac != nil {
		actor = ac.IdentityID()
	}
	g.auditAs(r.Context(), actor, action, targetType, targetID, detail)
}

// auditAs appends an entry for an explicit actor. Failures are logged and never
// fail the request.
func (g *Gateway) auditAs(ctx context.Context, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	AppendAudit(ctx, g.store, g.logger, &store.AuditEntry{
		ActorIdentityID: actor,
		Action:          action,
		TargetType:      targetType,
		TargetID:        targetID,
		Detail:          detail,
	})
}

// AppendAudit records e and logs, rather than returns, a failure. Bootstrap and
// the CLI use it where no Gateway exists.
func AppendAudit(ctx context.Context, s store.AuditStore, logger *slog.Logger, e *store.AuditEntry) {
	if err := s.AppendAuditLog(ctx, e); err != nil {
		logger.Error("failed to append audit log", "error", err, "action", e.Action, "target_id", e.TargetID)
	}
}

// handleRegister handles POST /api/register.
// Creates an identity holding the configured default roles.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.LoginKey = store.NormalizeLoginKey(req.LoginKey)
	if req.LoginKey == "" {
		sendJSONError(w, http.StatusBadRequest, "login_key is required")
		return
	}
	if len(req.Secret) < minSecretLength {
		sendJSONError(w, http.StatusBadRequest, "secret must be at least 8 characters")
		return
	}

	hash, err := g.hasher.HashCredential(req.Secret)
	if errors.Is(err, auth.ErrCredentialTooLong) {
		sendJSONError(w, http.StatusBadRequest, "secret must be at most 72 bytes")
		return
	}
	if err != nil {
		g.logger.Error("failed to hash credential", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	roles := make([]store.RoleName, len(g.config.Auth.DefaultRoles))
	for i, name := range g.config.Auth.DefaultRoles {
		roles[i] = store.RoleName(name)
	}

	identity := &store.Identity{
		ID:             uuid.New().String(),
		LoginKey:       req.LoginKey,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		CredentialHash: hash,
		Roles:          roles,
	}
	err = g.store.CreateIdentity(r.Context(), identity)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrLoginKeyExists):
		sendJSONError(w, http.StatusConflict, "login key already registered")
		return
	case errors.Is(err, store.ErrInvalidIdentity):
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrRoleNotFound):
		g.logger.Error("default role missing; run bootstrap or fix auth.default_roles", "roles", g.config.Auth.DefaultRoles)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	default:
		g.logger.Error("failed to create identity", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.auditAs(r.Context(), identity.ID, store.AuditCreateIdentity, store.AuditTargetIdentity, identity.ID,
		map[string]any{"login_key": identity.LoginKey, "source": "register"})

	writeJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

// allowLogin charges one attempt against both the login key and the client IP.
// remaining is the smaller budget left across the two keys, or -1 when the
// throttle could not report either.
func (g *Gateway) allowLogin(r *http.Request, loginKey string) (allowed bool, remaining int) {
	allowed, remaining = true, -1
	for _, key := range []string{"login:" + loginKey, "ip:" + clientIP(r)} {
		ok, err := g.limiter.Allow(r.Context(), key)
		if err != nil {
			g.logger.Warn("login throttle unavailable, allowing attempt", "error", err)
			continue
		}
		if !ok {
			allowed = false
		}
		n, err := g.limiter.Remaining(r.Context(), key)
		if err != nil {
			continue
		}
		if remaining < 0 || n < remaining {
			remaining = n
		}
	}
	return allowed, remaining
}

// handleLogin handles POST /api/login.
// Unknown login keys, wrong secrets, and disabled identities share one 401 body.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loginKey := store.NormalizeLoginKey(req.LoginKey)
	if loginKey == "" || req.Secret == "" {
		sendJSONError(w, http.StatusBadRequest, "login_key and secret are required")
		return
	}

	allowed, remaining := g.allowLogin(r, loginKey)
	if remaining >= 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(g.config.Login.Throttle.Attempts))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !allowed {
		g.metrics.LoginResult(metrics.LoginThrottled)
		g.logger.Warn("login throttled", "remote_addr", r.RemoteAddr)
		w.Header().Set("Retry-After", retryAfter(g.config.Login.Throttle.Window))
		sendJSONError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	token, err := g.login.Login(r.Context(), loginKey, req.Secret)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		g.metrics.LoginResult(metrics.LoginFailed)
		sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	default:
		g.metrics.LoginResult(metrics.LoginError)
		g.logger.Error("login failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.limiter.Reset(r.Context(), "login:"+loginKey); err != nil {
		g.logger.Warn("failed to reset login throttle", "error", err)
	}
	g.metrics.LoginResult(metrics.LoginSuccess)
	writeJSON(w, http.StatusOK, toTokenResponse(token))
}

func retryAfter(window time.Duration) string {
	secs := int(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// handleLogout handles POST /api/logout. Tokens are stateless, so the client
// discards its copy; the token stays valid until it expires.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	g.logger.Info("logout", "identity_id", auth.MustFromContext(r.Context()).IdentityID())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe handles GET /api/me. The identity's roles are the live role
// definitions, not the raw assignment list.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	roles := make([]RoleResponse, len(ac.Roles))
	for i, role := range ac.Roles {
		roles[i] = toRoleResponse(role)
	}
	identity := toIdentityResponse(ac.Identity)
	identity.Roles = make([]string, 0, len(ac.Roles))
	for _, name := range ac.RoleNames() {
		identity.Roles = append(identity.Roles, string(name))
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Identity:    identity,
		Roles:       roles,
		Permissions: ac.Permissions(),
	})
}

// handleUpdateMe handles PATCH /api/me. Changing the secret needs the current
// one; wrong guesses are throttled per identity. Every field is validated
// before anything is written.
func (g *Gateway) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DisplayName == nil && req.NewSecret == "" {
		sendJSONError(w, http.StatusBadRequest, "display_name or new_secret is required")
		return
	}

	ctx := r.Context()
	ac := auth.MustFromContext(ctx)
	id := ac.IdentityID()

	var displayName string
	if req.DisplayName != nil {
		displayName = strings.TrimSpace(*req.DisplayName)
		if err := store.ValidateDisplayName(displayName); err != nil {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var hash string
	if req.NewSecret != "" {
		if req.CurrentSecret == "" {
			sendJSONError(w, http.StatusBadRequest, "current_secret is required to change the secret")
			return
		}
		throttleKey := "secret:" + id
		ok, err := g.limiter.Allow(ctx, throttleKey)
		if err != nil {
			g.logger.Warn("secret change throttle unavailable, allowing attempt", "error", err)
		}
		if !ok {
			w.Header().Set("Retry-After", retryAfter(g.config.Login.Throttle.Window))
			sendJSONError(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
		if !g.hasher.VerifyCredential(req.CurrentSecret, ac.Identity.CredentialHash) {
			g.logger.Warn("secret change rejected", "identity_id", id, "remote_addr", r.RemoteAddr)
			sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if len(req.NewSecret) < minSecretLength {
			sendJSONError(w, http.StatusBadRequest, "secret must be at least 8 characters")
			return
		}
		hash, err = g.hasher.HashCredential(req.NewSecret)
		if errors.Is(err, auth.ErrCredentialTooLong) {
			sendJSONError(w, http.StatusBadRequest, "secret must be at most 72 bytes")
			return
		}
		if err != nil {
			g.logger.Error("failed to hash credential", "error", err)
			sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if err := g.limiter.Reset(ctx, throttleKey); err != nil {
			g.logger.Warn("failed to reset secret change throttle", "error", err)
		}
	}

	var fields []string
	if hash != "" {
		if err := g.store.UpdateCredentialHash(ctx, id, hash); err != nil {
			g.writeStoreError(w, err, "update credential")
			return
		}
		fields = append(fields, "secret")
	}
	if req.DisplayName != nil {
		if err := g.store.UpdateDisplayName(ctx, id, displayName); err != nil {
			g.writeStoreError(w, err, "update display name")
			return
		}
		fields = append(fields, "display_name")
	}
	g.audit(r, store.AuditUpdateIdentity, store.AuditTargetIdentity, id, map[string]any{"fields": fields, "source": "self"})

	updated, err := g.store.FindIdentityByID(ctx, id)
	if err != nil {
		g.writeStoreError(w, err, "get identity")
		return
	}
	writeJSON(w, http.StatusOK, toIdentityResponse(updated))
}

// handleDeleteMe handles DELETE /api/me by disabling the caller. Outstanding
// tokens stop working on their next request.
func (g *Gateway) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context()).IdentityID()
	if err := g.store.SetIdentityDisabled(r.Context(), id, true); err != nil {
		g.logger.Error("failed to disable identity", "error", err, "identity_id", id)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.audit(r, store.AuditDisableIdentity, store.AuditTargetIdentity, id, map[string]any{"source": "self"})
	w.WriteHeader(http.StatusNoContent)
}
