package auth

import "errors"

// Domain errors for the auth package.
var (
	ErrTokenInvalid  = errors.New("auth: invalid token")
	ErrTokenExpired  = errors.New("auth: token has expired")
	ErrInvalidRole   = errors.New("auth: invalid role")
	ErrMissingSecret = errors.New("auth: signing secret is empty")
)
