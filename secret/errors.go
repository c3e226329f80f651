package secret

import "errors"

// Sentinel errors for secret resolution.
var (
	ErrMissingEnv       = errors.New("secret: missing environment variable")
	ErrProviderNotFound = errors.New("secret: provider not registered")
	ErrEmptySecret      = errors.New("secret: resolved to empty value")
	ErrInvalidRef       = errors.New("secret: invalid reference")
)
