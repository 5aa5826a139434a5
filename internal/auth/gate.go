package auth

import (
	"context"
	"strings"

	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// IdentitySource resolves a user id to a live identity. Backed by the users
// repository; kept as an interface so the gate can be tested without a store.
type IdentitySource interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// Gate authenticates bearer credentials and resolves them to identities.
// The role embedded in the token is advisory only; the authoritative role is
// re-read from the identity source on every request, so a demoted user loses
// access without waiting for token expiry.
type Gate struct {
	tokens *TokenManager
	source IdentitySource
}

// NewGate creates an authorization gate.
func NewGate(tokens *TokenManager, source IdentitySource) *Gate {
	return &Gate{tokens: tokens, source: source}
}

// Authenticate resolves an Authorization header value to an Identity.
func (g *Gate) Authenticate(ctx context.Context, authHeader string) (Identity, error) {
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, errors.Unauthenticated("missing or malformed Authorization header")
	}

	claims, err := g.tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return Identity{}, err
	}

	id, err := g.source.ResolveIdentity(ctx, claims.UserID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return Identity{}, errors.Unauthenticated("user no longer exists")
		}
		return Identity{}, err
	}
	return id, nil
}

type contextKey struct{}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom extracts the caller identity placed by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok {
		return Identity{}, errors.Unauthenticated("no authenticated caller")
	}
	return id, nil
}
