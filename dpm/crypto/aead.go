package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey         = errors.New("crypto: empty key")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// NonceSize is the length of the random nonce prepended to every ciphertext.
const NonceSize = chacha20poly1305.NonceSizeX

// AEAD wraps XChaCha20-Poly1305 keyed by a stretched base key.
// Every Seal draws a fresh random 24-byte nonce.
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD stretches base with the KDF and builds the cipher from the result.
func NewAEAD(base []byte) (*AEAD, error) {
	if len(base) == 0 {
		return nil, ErrInvalidKey
	}
	key := StretchKey(base)
	defer Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext.
// Returns: nonce (24 bytes) || ciphertext || tag (16 bytes)
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+a.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return a.aead.Seal(out, out[:NonceSize], plaintext, additionalData), nil
}

// Open decrypts and verifies ciphertext.
// Input format: nonce (24 bytes) || ciphertext || tag (16 bytes)
func (a *AEAD) Open(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the nonce plus authentication tag overhead.
func (a *AEAD) Overhead() int { return NonceSize + a.aead.Overhead() }

// Encrypt seals data under a key stretched from base.
func Encrypt(data, base []byte) ([]byte, error) {
	a, err := NewAEAD(base)
	if err != nil {
		return nil, err
	}
	return a.Seal(data, nil)
}

// Decrypt reverses Encrypt. A wrong key or any modification yields ErrDecryptionFailed.
func Decrypt(data, base []byte) ([]byte, error) {
	a, err := NewAEAD(base)
	if err != nil {
		return nil, err
	}
	return a.Open(data, nil)
}
