package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// Claims is the JWT payload issued at login.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a TokenManager with the given HMAC secret and
// token lifetime.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the identity.
func (m *TokenManager) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: id.ID,
		Name:   id.Name,
		Role:   id.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Subject:   id.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token string, returning its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthenticated("unexpected token signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthenticated, "invalid or expired token")
	}
	if !token.Valid {
		return nil, errors.Unauthenticated("invalid or expired token")
	}
	return claims, nil
}
