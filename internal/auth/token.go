// ABOUTME: JWT token issuance and verification for authenticated identities
// ABOUTME: Uses HS256 signing with an injected secret, TTL, issuer, and clock

package auth

import (
	"fmt"
	"time"

	"github.com/2389/gatekeeper/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum signing secret length in bytes.
const MinSecretLength = 32

// Defaults applied by NewJWTService when TokenConfig leaves them unset.
const (
	DefaultTokenTTL = time.Hour
	DefaultIssuer   = "gatekeeper"
)

// TokenConfig configures a JWTService.
type TokenConfig struct {
	Secret     []byte
	DefaultTTL time.Duration
	Issuer     string
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Token is a freshly issued signed token.
type Token struct {
	ID        string
	SubjectID string
	// Roles is the role snapshot at issuance. It is informational only and
	// never consulted for authorization.
	Roles     []store.RoleName
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       string
}

// Claims are the verified contents of a token.
type Claims struct {
	ID        string
	SubjectID string
	Roles     []store.RoleName
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer issues signed tokens for identities.
type TokenIssuer interface {
	Issue(identity *store.Identity, ttl time.Duration) (*Token, error)
}

// TokenVerifier verifies a token and returns its claims.
type TokenVerifier interface {
	Verify(raw string) (*Claims, error)
}

type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTService implements TokenIssuer and TokenVerifier using HS256 signed JWTs.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

var (
	_ TokenIssuer   = (*JWTService)(nil)
	_ TokenVerifier = (*JWTService)(nil)
)

// NewJWTService creates a token service. The secret must be at least
// MinSecretLength bytes.
func NewJWTService(cfg TokenConfig) (*JWTService, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrSecretTooShort, MinSecretLength, len(cfg.Secret))
	}
	s := &JWTService{
		secret: append([]byte(nil), cfg.Secret...),
		ttl:    cfg.DefaultTTL,
		issuer: cfg.Issuer,
		now:    cfg.Clock,
		// Claims validation is disabled so expiry is checked against the
		// injected clock with an exclusive boundary.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// DefaultTTL returns the lifetime applied when Issue is called with ttl <= 0.
func (s *JWTService) DefaultTTL() time.Duration {
	return s.ttl
}

// Issue signs a token for identity. A non-positive ttl uses the default.
// Disabled identities are refused.
func (s *JWTService) Issue(identity *store.Identity, ttl time.Duration) (*Token, error) {
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	if identity.Disabled {
		return nil, ErrIdentityDisabled
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl).Truncate(time.Second)
	roles := append([]store.RoleName{}, identity.Roles...)

	roleStrings := make([]string, len(roles))
	for i, r := range roles {
		roleStrings[i] = string(r)
	}

	id := uuid.New().String()
	claims := tokenClaims{
		Roles: roleStrings,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   identity.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Token{
		ID:        id,
		SubjectID: identity.ID,
		Roles:     roles,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Raw:       raw,
	}, nil
}

// Verify checks structure, then expiry, then signature, and returns the claims.
// It performs no I/O.
func (s *JWTService) Verify(raw string) (*Claims, error) {
	var unverified tokenClaims
	if _, _, err := s.parser.ParseUnverified(raw, &unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	switch {
	case unverified.Subject == "":
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedToken)
	case unverified.IssuedAt == nil:
		return nil, fmt.Errorf("%w: missing iat", ErrMalformedToken)
	case unverified.ExpiresAt == nil:
		return nil, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}

	// An expired token is reported as expired whether or not its signature
	// is intact.
	if !s.now().Before(unverified.ExpiresAt.Time) {
		return nil, ErrExpiredToken
	}

	var claims tokenClaims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrMalformedToken, claims.Issuer)
	}

	roles := make([]store.RoleName, len(claims.Roles))
	for i, r := range claims.Roles {
		roles[i] = store.RoleName(r)
	}
	return &Claims{
		ID:        claims.ID,
		SubjectID: claims.Subject,
		Roles:     roles,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
