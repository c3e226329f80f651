package auth

import "errors"

// Sentinel errors for the client session.
var (
	ErrNoToken        = errors.New("auth: no token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrNoUser         = errors.New("auth: no user")
	ErrNilStorage     = errors.New("auth: storage is nil")
)
