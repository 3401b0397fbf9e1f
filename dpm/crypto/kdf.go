package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	// KDFIterations is the fixed PBKDF2 work factor. Every node must use the
	// same value or they will derive different secrets.
	KDFIterations = 100_000
	// KDFKeyLength is the length of every stretched key.
	KDFKeyLength = 32
)

var kdfSalt = []byte("dpm/secret-derivation/v1")

// StretchKey runs the slow KDF over base with the fixed salt.
func StretchKey(base []byte) []byte {
	return pbkdf2.Key(base, kdfSalt, KDFIterations, KDFKeyLength, sha3.New256)
}

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Hash is the protocol hash (SHA3-256) over the concatenation of parts.
func Hash(parts ...[]byte) []byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
