package directory

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuerName is the iss claim of directory tokens.
const TokenIssuerName = "weather-directory"

// ErrTokenDisabled is returned when no signing secret is configured.
var ErrTokenDisabled = errors.New("directory tokens are disabled: no secret configured")

// TokenIssuer signs and verifies the HS256 bearer tokens the directory
// requires on its mutating endpoints.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer. A zero ttl issues tokens without expiry.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (t *TokenIssuer) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Issue signs a token for subject.
func (t *TokenIssuer) Issue(subject string) (string, error) {
	if !t.Enabled() {
		return "", ErrTokenDisabled
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:   TokenIssuerName,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns its claims.
func (t *TokenIssuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	if !t.Enabled() {
		return nil, ErrTokenDisabled
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
