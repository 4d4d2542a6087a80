package store

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/nfrund/quickchat/internal/domain"
)

// MintToken issues a new reconnection credential.
func MintToken() string {
	return uuid.NewString()
}

// IdentityFromToken derives the identity a credential stands for. The same
// token always yields the same identity, which is what lets a client resume
// as the same user across sessions.
func IdentityFromToken(token string) (domain.Identity, error) {
	parsed, err := uuid.Parse(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return domain.Identity(sha256.Sum256(parsed[:])), nil
}
