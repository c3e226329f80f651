package auth

import "time"

// User is the profile persisted alongside the token.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Roles understood by the media API.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is what the client can learn from its bearer token.
//
// The token is decoded without signature verification; the server remains
// the authority. Identity is used to notice expiry and to label requests.
type Identity struct {
	// Subject is the sub claim.
	Subject string

	// Role is the role claim, if present.
	Role string

	// Claims contains the raw claims from the token.
	Claims map[string]any

	// ExpiresAt is zero when the token carries no exp claim.
	ExpiresAt time.Time

	// IssuedAt is zero when the token carries no iat claim.
	IssuedAt time.Time
}

// HasRole checks the role claim.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	return id.Role == role
}

// IsExpired reports whether the identity has expired at now.
func (id *Identity) IsExpired(now time.Time) bool {
	if id == nil || id.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(id.ExpiresAt)
}
