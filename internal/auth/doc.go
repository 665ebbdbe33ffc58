// Package auth provides authentication and role-based authorization.
//
// # Authentication
//
// Identities log in with a login key and secret. LoginService checks the
// secret with a CredentialVerifier (bcrypt) and issues an HS256 JWT through
// JWTService. Tokens carry sub, roles, iat, exp, iss and jti claims; the roles
// claim is a snapshot and is never used for authorization.
//
// On every request the Authenticator verifies the token (structure, then
// expiry, then signature) and only then asks the Resolver to load the identity
// and the live definitions of its roles. Disabled or missing identities fail
// even when their token is still valid.
//
// # Authorization
//
// A Requirement lists role names or permission strings with ANY or ALL
// semantics:
//
//	auth.Any("admin", "roles:write") // at least one held
//	auth.All("identities:write", "roles:read") // every one held
//
// Authorize evaluates a Requirement against the AuthContext. An empty ANY
// denies and an empty ALL allows.
//
// # Gates
//
// HTTP routes compose HTTPAuthMiddleware and RequireHTTP; gRPC servers chain
// UnaryInterceptor/StreamInterceptor before RequireUnary/RequireStream. An
// authorization gate that runs without an AuthContext reports
// ErrGatesMisordered as an internal error.
//
// # Errors
//
// Authentication failures (ErrMalformedToken, ErrInvalidSignature,
// ErrExpiredToken, ErrIdentityNotFound, ErrIdentityDisabled) all surface to
// clients as a generic 401 / Unauthenticated. Denials surface as 403 /
// PermissionDenied.
package auth
