// DealerPulse - Real-Time Dealership Event Distribution
// Copyright 2026 AutolytiQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolytiq/dealerpulse

// Package auth provides bearer-token verification for realtime connections.
//
// Tokens are HMAC-SHA256 signed JWTs carrying the user and store identity a
// connection is bound to after authentication. The same manager both mints
// and verifies tokens so the surrounding application and the tests can issue
// credentials against the shared secret.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/autolytiq/dealerpulse/internal/config"
)

// Claims are the identity claims carried by a DealerPulse bearer token.
type Claims struct {
	UserID  string `json:"userId"`
	StoreID string `json:"storeId"`
	jwt.RegisteredClaims
}

// Manager creates and validates JWT bearer tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager from the security configuration.
// Returns an error if the JWT secret is missing; Config.Validate enforces
// the minimum length before this point.
func NewManager(cfg *config.SecurityConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}

	return &Manager{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
	}, nil
}

// Generate mints a signed token binding a user to a store.
//
// Token claims:
//   - userId, storeId: identity bound to the connection on auth
//   - ExpiresAt: now + configured TTL
//   - IssuedAt, NotBefore: now
func (m *Manager) Generate(userID, storeID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  userID,
		StoreID: storeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// Validate verifies a token's signature, expiry, and not-before window and
// returns its identity claims.
//
// Tokens signed with a non-HMAC algorithm are rejected to prevent algorithm
// confusion attacks. Time-based validation uses server time.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" || claims.StoreID == "" {
		return nil, fmt.Errorf("token missing identity claims")
	}

	return claims, nil
}
