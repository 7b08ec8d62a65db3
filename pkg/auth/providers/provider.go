package providers

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a bearer token does not identify a player.
var ErrInvalidToken = errors.New("invalid token")

// AuthProvider resolves a bearer token to the identity that acts in the game.
type AuthProvider interface {
	VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error)
}

type TokenClaims struct {
	UID string `json:"uid"`
}
