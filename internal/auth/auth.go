// Package auth defines the opaque-identity plug-point used to turn a
// client-supplied authenticate secret into a store.UserID, grounded on
// server/auth/token.TokenAuth's Authenticate contract (tinode/chat).
package auth

import (
	"context"
	"errors"
)

// ErrInvalidSecret is returned by Authenticator.Authenticate when the
// supplied secret does not decode, is unsigned, or has expired.
var ErrInvalidSecret = errors.New("auth: invalid secret")

// Authenticator turns a client-supplied secret into a user identity.
// Implementations never need to know how the secret was minted; the
// session handler treats the result as an opaque identity string.
type Authenticator interface {
	// Authenticate validates secret and returns the user id it asserts.
	Authenticate(ctx context.Context, secret []byte) (userID string, err error)
}
