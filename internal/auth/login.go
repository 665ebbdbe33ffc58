// ABOUTME: Login flow exchanging a login key and secret for a signed token
// ABOUTME: Every failure collapses to ErrInvalidCredentials with comparable timing

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/gatekeeper/internal/store"
)

// fallbackDummyHash is a well-formed bcrypt hash (cost 10) compared against
// when the login key is unknown and no hasher is available.
const fallbackDummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// LoginService authenticates login key and secret pairs.
type LoginService struct {
	repo      IdentityRepository
	verifier  CredentialVerifier
	issuer    TokenIssuer
	dummyHash string
	logger    *slog.Logger
}

// NewLoginService creates a LoginService. If verifier can also hash, the
// unknown-key comparison uses a hash at the same cost as real credentials.
func NewLoginService(repo IdentityRepository, verifier CredentialVerifier, issuer TokenIssuer, logger *slog.Logger) *LoginService {
	if logger == nil {
		logger = slog.Default()
	}
	dummy := fallbackDummyHash
	if hasher, ok := verifier.(CredentialHasher); ok {
		if h, err := hasher.HashCredential("gatekeeper-unknown-login"); err == nil {
			dummy = h
		}
	}
	return &LoginService{
		repo:      repo,
		verifier:  verifier,
		issuer:    issuer,
		dummyHash: dummy,
		logger:    logger.With("component", "login"),
	}
}

// Login verifies the secret for loginKey and issues a token with the default
// lifetime. Unknown keys, wrong secrets, and disabled identities all return
// ErrInvalidCredentials.
func (l *LoginService) Login(ctx context.Context, loginKey, secret string) (*Token, error) {
	identity, err := l.repo.FindIdentityByLoginKey(ctx, loginKey)
	if errors.Is(err, store.ErrIdentityNotFound) {
		l.verifier.VerifyCredential(secret, l.dummyHash)
		l.logger.Info("login failed", "reason", "unknown_login_key")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}

	if !l.verifier.VerifyCredential(secret, identity.CredentialHash) {
		l.logger.Info("login failed", "reason", "wrong_secret", "identity_id", identity.ID)
		return nil, ErrInvalidCredentials
	}

	token, err := l.issuer.Issue(identity, 0)
	if errors.Is(err, ErrIdentityDisabled) {
		l.logger.Info("login failed", "reason", "identity_disabled", "identity_id", identity.ID)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("login succeeded", "identity_id", identity.ID)
	return token, nil
}
