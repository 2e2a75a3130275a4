package jwtauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chathub/relay/internal/auth"
	"github.com/chathub/relay/internal/auth/jwtauth"
)

func TestIssueThenAuthenticateRoundTrips(t *testing.T) {
	a, err := jwtauth.New([]byte("test-signing-key"), 1, time.Minute)
	require.NoError(t, err)

	secret, expires, err := a.Issue("user-42")
	require.NoError(t, err)
	require.True(t, expires.After(time.Now()))

	uid, err := a.Authenticate(context.Background(), secret)
	require.NoError(t, err)
	require.Equal(t, "user-42", uid)
}

func TestAuthenticateRejectsWrongKey(t *testing.T) {
	a, err := jwtauth.New([]byte("key-one"), 0, time.Minute)
	require.NoError(t, err)
	secret, _, err := a.Issue("user-1")
	require.NoError(t, err)

	b, err := jwtauth.New([]byte("key-two"), 0, time.Minute)
	require.NoError(t, err)

	_, err = b.Authenticate(context.Background(), secret)
	require.ErrorIs(t, err, auth.ErrInvalidSecret)
}

func TestAuthenticateRejectsStaleSerial(t *testing.T) {
	a, err := jwtauth.New([]byte("test-signing-key"), 1, time.Minute)
	require.NoError(t, err)
	secret, _, err := a.Issue("user-1")
	require.NoError(t, err)

	bumped, err := jwtauth.New([]byte("test-signing-key"), 2, time.Minute)
	require.NoError(t, err)

	_, err = bumped.Authenticate(context.Background(), secret)
	require.ErrorIs(t, err, auth.ErrInvalidSecret)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	a, err := jwtauth.New([]byte("test-signing-key"), 0, time.Millisecond)
	require.NoError(t, err)
	secret, _, err := a.Issue("user-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = a.Authenticate(context.Background(), secret)
	require.ErrorIs(t, err, auth.ErrInvalidSecret)
}
