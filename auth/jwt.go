package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseIdentity decodes the claims of a JWT without verifying its signature.
//
// Tokens that are not JWTs return ErrTokenMalformed. Opaque tokens are still
// valid bearer credentials; callers decide whether that matters.
func ParseIdentity(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	return buildIdentity(claims), nil
}

func buildIdentity(claims jwt.MapClaims) *Identity {
	identity := &Identity{
		Claims: make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		identity.Claims[k] = v
	}

	if sub, err := claims.GetSubject(); err == nil {
		identity.Subject = sub
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	return identity
}

// expired reports whether token is a JWT whose exp has passed at now.
// Opaque and undecodable tokens are never considered expired.
func expired(token string, now time.Time) bool {
	id, err := ParseIdentity(token)
	if err != nil {
		return false
	}
	return id.IsExpired(now)
}
