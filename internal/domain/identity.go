package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// IdentitySize is the length in bytes of an Identity.
const IdentitySize = 32

// ErrInvalidIdentity is returned when a string is not a hex encoded identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the opaque, server-assigned identifier of a connected user.
type Identity [IdentitySize]byte

// NewIdentity returns a random identity.
func NewIdentity() (Identity, error) {
	var id Identity
	if _, err := rand.Read(id[:]); err != nil {
		return Identity{}, fmt.Errorf("generate identity: %w", err)
	}
	return id, nil
}

// ParseIdentity decodes a hex encoded identity. A leading "0x" is accepted.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(IdentitySize) {
		return Identity{}, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidIdentity, hex.EncodedLen(IdentitySize), len(s))
	}
	var id Identity
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return id, nil
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical lowercase hex encoding, without prefix.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
