// ABOUTME: Credential verification and hashing backed by bcrypt
// ABOUTME: Verification delegates entirely to the constant-time bcrypt comparison

package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxCredentialBytes is bcrypt's input limit.
const maxCredentialBytes = 72

// CredentialVerifier checks a plaintext secret against a stored hash.
type CredentialVerifier interface {
	VerifyCredential(secret, hash string) bool
}

// CredentialHasher produces stored hashes from plaintext secrets.
type CredentialHasher interface {
	HashCredential(secret string) (string, error)
}

// BcryptVerifier implements CredentialVerifier and CredentialHasher with bcrypt.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier returns a verifier that hashes at the given cost.
// Costs outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

// VerifyCredential reports whether secret matches hash. A malformed hash
// never matches.
func (b *BcryptVerifier) VerifyCredential(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// HashCredential hashes secret at the configured cost.
func (b *BcryptVerifier) HashCredential(secret string) (string, error) {
	if len(secret) > maxCredentialBytes {
		return "", ErrCredentialTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), b.cost)
	if err != nil {
		return "", fmt.Errorf("hashing credential: %w", err)
	}
	return string(hash), nil
}
