// Package auth issues and validates the bearer tokens that protect the
// operations API.
package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing operator access tokens.
type JWTService interface {
	// GenerateToken creates a signed access token for the named operator.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken checks signature, lifetime and token type and returns
	// the embedded claims.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of an access token.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	TokenType string    `json:"type,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
