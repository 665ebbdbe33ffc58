// Package gateway serves the gatekeeper HTTP API and gRPC endpoint.
//
// # Overview
//
// Gateway owns the store, the token service, the login throttle, and the
// metrics registry, and builds both servers around them. Every protected
// route is composed of two gates: auth.HTTPAuthMiddleware attaches the
// caller's AuthContext, then auth.RequireHTTP checks the route's Requirement.
// The gRPC server chains auth.UnaryInterceptor and auth.RequireUnary the same
// way.
//
// # HTTP API
//
//   - GET /health, GET /health/ready - liveness and store readiness
//   - POST /api/register - create an identity with the default roles
//   - POST /api/login - exchange login key and secret for a token (throttled)
//   - POST /api/logout, GET /api/me, DELETE /api/me - the caller's own identity
//   - PATCH /api/me - change display name, or secret given the current one
//   - /api/roles[/{name}] - role CRUD (roles:read, roles:write)
//   - /api/identities[/{id}] - listing, role assignment, disable/enable
//   - POST /api/identities/{id}/tokens - admin token issuance (tokens:issue)
//   - GET /api/audit - audit log (audit:read)
//
// Errors are JSON objects of the form {"error": "..."}. Authorization
// failures on ALL requirements also carry the first missing item, and a
// "role in use" conflict carries the holder count. Login responses report the
// remaining throttle budget in X-RateLimit-Remaining.
//
// # gRPC
//
// The standard health service is public. Server reflection requires the
// admin role. Other services registered through GRPCServer need a valid
// token.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// With tailscale.enabled the listeners come from an embedded tsnet node
// instead of server.http_addr and server.grpc_addr.
package gateway
