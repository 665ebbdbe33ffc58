// ABOUTME: Error taxonomy shared by every authentication and authorization path
// ABOUTME: Gates map these sentinels onto HTTP and gRPC status codes

package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Authentication failures. Any of these means the caller is not who it claims to be.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityDisabled = errors.New("identity disabled")
	ErrMissingToken     = errors.New("missing bearer token")
)

var (
	// ErrPermissionDenied is matched by every *PermissionDeniedError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrGatesMisordered means an authorization gate ran without an
	// authenticated identity on the context. It is a wiring bug, not a client error.
	ErrGatesMisordered = errors.New("authorization gate reached without authentication")

	// ErrInvalidCredentials is the single error login returns for unknown
	// login keys, wrong secrets, and disabled identities.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCredentialTooLong is returned when hashing a secret longer than bcrypt accepts.
	ErrCredentialTooLong = errors.New("credential exceeds 72 bytes")

	// ErrSecretTooShort is returned when the token signing secret is too weak.
	ErrSecretTooShort = errors.New("signing secret too short")
)

// IsAuthenticationError reports whether err belongs to the authentication class.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, ErrIdentityDisabled) ||
		errors.Is(err, ErrMissingToken)
}

// FailureReason maps an authentication error to a short label for logs and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrIdentityDisabled):
		return "identity_disabled"
	default:
		return "internal"
	}
}

// PermissionDeniedError describes an authorization denial.
type PermissionDeniedError struct {
	Mode  Mode
	Items []string
	// Missing is the first unheld item for ModeAll. Empty for ModeAny.
	Missing string
}

func (e *PermissionDeniedError) Error() string {
	if e.Mode == ModeAll {
		return fmt.Sprintf("permission denied: missing %q", e.Missing)
	}
	if len(e.Items) == 0 {
		return "permission denied: empty requirement"
	}
	return fmt.Sprintf("permission denied: requires any of [%s]", strings.Join(e.Items, ", "))
}

// Is makes errors.Is(err, ErrPermissionDenied) hold.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
