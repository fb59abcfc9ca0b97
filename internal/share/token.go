// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package share issues and verifies share-link tokens. A share token grants
// read-only access to one resource's dashboard view without a login; public
// viewers still receive live staleness updates for that resource.
package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Verification errors.
var (
	ErrTokenExpired = errors.New("share token expired")
	ErrTokenInvalid = errors.New("share token invalid")
)

// Claims are the JWT claims carried by a share token.
type Claims struct {
	ResourceType models.ResourceType `json:"resource_type"`
	ResourceID   int64               `json:"resource_id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies share tokens with a symmetric key.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager. ttl defaults to 7 days, matching how
// long share links stay on customer slide decks in practice.
func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errors.New("share token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{secret: secret, ttl: ttl}, nil
}

// Issue creates a share token scoped to one resource.
func (m *Manager) Issue(key models.ResourceKey) (string, error) {
	if !key.Type.Valid() || key.ID <= 0 {
		return "", fmt.Errorf("%w: bad resource %s", ErrTokenInvalid, key)
	}

	now := time.Now()
	claims := Claims{
		ResourceType: key.Type,
		ResourceID:   key.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    "pulseboard",
			Subject:   key.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign share token: %w", err)
	}
	return signed, nil
}

// Verify checks a token and returns the resource it grants access to.
func (m *Manager) Verify(tokenString string) (models.ResourceKey, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.ResourceKey{}, ErrTokenExpired
		}
		return models.ResourceKey{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return models.ResourceKey{}, ErrTokenInvalid
	}

	key := models.ResourceKey{Type: claims.ResourceType, ID: claims.ResourceID}
	if !key.Type.Valid() || key.ID <= 0 {
		return models.ResourceKey{}, fmt.Errorf("%w: bad resource claims", ErrTokenInvalid)
	}
	return key, nil
}
