// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves request identity. The orchestration core only
// needs a stable user id and an optional group id for admission control;
// everything else in the token is ignored.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved caller.
type Identity struct {
	UserID  string
	GroupID string
}

// ErrNoToken indicates a missing Authorization header.
var ErrNoToken = errors.New("no bearer token")

// Resolver turns a bearer token into an identity.
type Resolver interface {
	Resolve(token string) (*Identity, error)
}

// JWTResolver validates HS256-signed tokens and reads identity from the
// sub and group claims.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver over the shared signing secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve validates the token and extracts the caller identity.
func (r *JWTResolver) Resolve(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	userID := getClaimString(claims, "sub")
	if userID == "" {
		userID = getClaimString(claims, "user_id")
	}
	if userID == "" {
		return nil, errors.New("token has no subject")
	}

	return &Identity{
		UserID:  userID,
		GroupID: getClaimString(claims, "group"),
	}, nil
}

// StaticResolver maps fixed tokens to identities. Used in tests and local
// development.
type StaticResolver struct {
	Identities map[string]*Identity
}

// Resolve looks the token up in the static table.
func (r *StaticResolver) Resolve(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	id, ok := r.Identities[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
