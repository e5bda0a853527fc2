// Package auth verifies moderator tokens. Posting stays anonymous; only
// destructive moderation endpoints sit behind a bearer token.
package auth

import (
	"context"
	"errors"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Roles allowed to moderate.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type ctxKeyPrincipal struct{}

// Principal is the verified caller of a moderation request.
type Principal struct {
	Subject string
	Role    string
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal{}).(Principal)
	return p, ok
}

// WithPrincipal injects p into ctx. Useful for testing.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier checks HS256 tokens signed with Secret.
type Verifier struct {
	Secret []byte
}

// Enabled reports whether a secret is configured.
func (v Verifier) Enabled() bool {
	return len(v.Secret) > 0
}

func (v Verifier) Parse(tokenString string) (*Claims, error) {
	if !v.Enabled() {
		return nil, errors.New("token verification disabled")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// bearer extracts the token from an Authorization header value.
func bearer(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func canModerate(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin, RoleModerator:
		return true
	}
	return false
}
