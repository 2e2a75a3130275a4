// Package jwtauth implements auth.Authenticator using signed JWTs,
// replacing server/auth/token's raw HMAC byte-packing (tinode/chat) with
// github.com/golang-jwt/jwt/v5 while keeping the same "serial number"
// idea for mass-invalidating issued tokens.
package jwtauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chathub/relay/internal/auth"
)

// claims is the payload carried by every token this package issues.
type claims struct {
	jwt.RegisteredClaims
	Serial int `json:"srl"`
}

// Authenticator issues and validates JWTs signed with an HMAC key.
type Authenticator struct {
	key      []byte
	serial   int
	lifetime time.Duration
}

// New builds an Authenticator. key must be non-empty; serial lets the
// caller invalidate every previously issued token by bumping it.
func New(key []byte, serial int, lifetime time.Duration) (*Authenticator, error) {
	if len(key) == 0 {
		return nil, errors.New("jwtauth: key must not be empty")
	}
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	return &Authenticator{key: key, serial: serial, lifetime: lifetime}, nil
}

// Issue mints a token asserting userID, signed with the Authenticator's key.
func (a *Authenticator) Issue(userID string) ([]byte, time.Time, error) {
	expires := time.Now().Add(a.lifetime)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Serial: a.serial,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(a.key)
	if err != nil {
		return nil, time.Time{}, err
	}
	return []byte(signed), expires, nil
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, secret []byte) (string, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(string(secret), &c, func(t *jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !tok.Valid {
		return "", auth.ErrInvalidSecret
	}
	if c.Serial != a.serial {
		return "", auth.ErrInvalidSecret
	}
	if c.Subject == "" {
		return "", auth.ErrInvalidSecret
	}
	return c.Subject, nil
}

var _ auth.Authenticator = (*Authenticator)(nil)
