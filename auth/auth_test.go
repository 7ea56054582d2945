// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTResolver_ValidToken(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "alice",
		"group": "acme",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "acme", id.GroupID)
}

func TestJWTResolver_NoGroupClaim(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "alice"})

	id, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Empty(t, id.GroupID)
}

func TestJWTResolver_UserIDFallbackClaim(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"user_id": "bob"})

	id, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.UserID)
}

func TestJWTResolver_WrongSecret(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, "other-secret", jwt.MapClaims{"sub": "alice"})

	_, err := r.Resolve(token)
	assert.Error(t, err)
}

func TestJWTResolver_ExpiredToken(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := r.Resolve(token)
	assert.Error(t, err)
}

func TestJWTResolver_MissingSubject(t *testing.T) {
	r := NewJWTResolver(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"other": "claim"})

	_, err := r.Resolve(token)
	assert.Error(t, err)
}

func TestJWTResolver_EmptyToken(t *testing.T) {
	r := NewJWTResolver(testSecret)
	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestJWTResolver_GarbageToken(t *testing.T) {
	r := NewJWTResolver(testSecret)
	_, err := r.Resolve("not.a.jwt")
	assert.Error(t, err)
}

func TestStaticResolver(t *testing.T) {
	r := &StaticResolver{Identities: map[string]*Identity{
		"token-1": {UserID: "alice", GroupID: "acme"},
	}}

	id, err := r.Resolve("token-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)

	_, err = r.Resolve("unknown")
	assert.Error(t, err)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"bearer abc123", ""},
		{"abc123", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), "header %q", tt.header)
	}
}
