// Package auth signs and verifies the bearer tokens that guard the
// mutating API routes.
//
// Tokens are HS256 JWTs carrying a subject and a role. Operators may start
// and cancel experiments; observers are limited to read routes. There is no
// user store: `colourlab token` mints tokens directly from the shared
// secret in security.jwt.secret.
package auth
