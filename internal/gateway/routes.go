// ABOUTME: HTTP route table for the gateway
// ABOUTME: Composes the authentication gate and per-route authorization gates around each handler

package gateway

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/store"
)

// Route requirements. The bootstrap admin role holds every permission listed
// here, so admin passes the ALL requirements too.
var (
	reqRolesRead       = auth.Any(string(store.RoleAdmin), store.PermRolesRead)
	reqRolesWrite      = auth.Any(string(store.RoleAdmin), store.PermRolesWrite)
	reqIdentitiesRead  = auth.Any(string(store.RoleAdmin), store.PermIdentitiesRead)
	reqIdentitiesWrite = auth.Any(string(store.RoleAdmin), store.PermIdentitiesWrite)
	reqAssignRoles     = auth.All(store.PermIdentitiesWrite, store.PermRolesRead)
	reqIssueTokens     = auth.Any(string(store.RoleAdmin), store.PermTokensIssue)
	reqAuditRead       = auth.Any(string(store.RoleAdmin), store.PermAuditRead)
)

// registerRoutes installs every endpoint on mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux, authLogger *slog.Logger) {
	authn := auth.HTTPAuthMiddleware(g.authenticator, authLogger)
	protect := func(req auth.Requirement, h http.HandlerFunc) http.Handler {
		return authn(auth.RequireHTTP(req, authLogger)(h))
	}

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		mux.Handle(fmt.Sprintf("GET %s", g.config.Metrics.Path), g.metrics.Handler())
	}

	if g.config.Auth.AllowRegistration {
		mux.HandleFunc("POST /api/register", g.handleRegister)
	}
	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.Handle("POST /api/logout", authn(http.HandlerFunc(g.handleLogout)))
	mux.Handle("GET /api/me", authn(http.HandlerFunc(g.handleMe)))
	mux.Handle("PATCH /api/me", authn(http.HandlerFunc(g.handleUpdateMe)))
	mux.Handle("DELETE /api/me", authn(http.HandlerFunc(g.handleDeleteMe)))

	mux.Handle("GET /api/roles", protect(reqRolesRead, g.handleListRoles))
	mux.Handle("GET /api/roles/{name}", protect(reqRolesRead, g.handleGetRole))
	mux.Handle("POST /api/roles", protect(reqRolesWrite, g.handleCreateRole))
	mux.Handle("PUT /api/roles/{name}", protect(reqRolesWrite, g.handleUpdateRole))
	mux.Handle("DELETE /api/roles/{name}", protect(reqRolesWrite, g.handleDeleteRole))

	mux.Handle("GET /api/identities", protect(reqIdentitiesRead, g.handleListIdentities))
	mux.Handle("GET /api/identities/{id}", protect(reqIdentitiesRead, g.handleGetIdentity))
	mux.Handle("PUT /api/identities/{id}/roles/{role}", protect(reqAssignRoles, g.handleAssignRole))
	mux.Handle("DELETE /api/identities/{id}/roles/{role}", protect(reqAssignRoles, g.handleUnassignRole))
	mux.Handle("POST /api/identities/{id}/disable", protect(reqIdentitiesWrite, g.handleSetDisabled(true)))
	mux.Handle("POST /api/identities/{id}/enable", protect(reqIdentitiesWrite, g.handleSetDisabled(false)))
	mux.Handle("POST /api/identities/{id}/tokens", protect(reqIssueTokens, g.handleIssueToken))

	mux.Handle("GET /api/audit", protect(reqAuditRead, g.handleListAudit))
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n, err := g.store.CountIdentities(r.Context())
	if err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d identities)", n)
}
