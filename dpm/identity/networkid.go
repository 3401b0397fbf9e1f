package identity

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/TheusHen/DPM/dpm/crypto"
)

var ErrInvalidNetworkID = errors.New("identity: invalid network id")

// NetworkID identifies the set of nodes sharing a master password.
// It is defined as: NetworkID = SHA3-256(derivative || seed).
type NetworkID [32]byte

func ComputeNetworkID(secret *crypto.Secret, seed string) (NetworkID, error) {
	var id NetworkID
	err := secret.Use(func(d []byte) error {
		copy(id[:], crypto.Hash(d, []byte(seed)))
		return nil
	})
	return id, err
}

func ParseNetworkID(s string) (NetworkID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NetworkID{}, err
	}
	return NetworkIDFromBytes(b)
}

func NetworkIDFromBytes(b []byte) (NetworkID, error) {
	if len(b) != len(NetworkID{}) {
		return NetworkID{}, ErrInvalidNetworkID
	}
	var id NetworkID
	copy(id[:], b)
	return id, nil
}

func (id NetworkID) String() string { return hex.EncodeToString(id[:]) }

// Int returns the identifier as a non-negative integer.
func (id NetworkID) Int() *big.Int { return new(big.Int).SetBytes(id[:]) }

func (id NetworkID) Equal(other NetworkID) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

func (id NetworkID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *NetworkID) UnmarshalText(b []byte) error {
	parsed, err := ParseNetworkID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
