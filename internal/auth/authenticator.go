// ABOUTME: Authenticator composes token verification with identity resolution
// ABOUTME: Shared by the HTTP middleware and the gRPC interceptors

package auth

import (
	"context"
	"strings"
)

// Authenticator verifies a raw bearer token and resolves its subject.
type Authenticator struct {
	tokens   TokenVerifier
	resolver *Resolver
	onResult func(reason string)
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithResultHook registers fn to be called with FailureReason(err) after every
// authentication attempt ("ok" on success).
func WithResultHook(fn func(reason string)) AuthenticatorOption {
	return func(a *Authenticator) {
		a.onResult = fn
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens TokenVerifier, repo IdentityRepository, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		tokens:   tokens,
		resolver: NewResolver(repo),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate verifies raw and resolves the identity it names. The token is
// verified before the repository is consulted.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*AuthContext, error) {
	ac, err := a.authenticate(ctx, raw)
	if a.onResult != nil {
		a.onResult(FailureReason(err))
	}
	return ac, err
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (*AuthContext, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	ac, err := a.resolver.Resolve(ctx, claims.SubjectID)
	if err != nil {
		return nil, err
	}
	ac.Claims = claims
	return ac, nil
}

// extractBearerToken extracts a bearer token from an Authorization value.
// Returns the token and a failure description (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
