package crypto

import (
	"bytes"
	"errors"
	"sync"
)

var (
	ErrEmptyPassword = errors.New("crypto: empty password")
	ErrSecretWiped   = errors.New("crypto: secret has been wiped")
)

// Secret holds the derivative of the master password.
// The password itself is never retained.
type Secret struct {
	mu sync.RWMutex
	b  []byte
}

// Derive turns the master password into its derivative.
// The same password always yields the same Secret.
func Derive(password []byte) (*Secret, error) {
	if len(bytes.TrimSpace(password)) == 0 {
		return nil, ErrEmptyPassword
	}
	return &Secret{b: StretchKey(password)}, nil
}

// Use lends the derivative to fn. fn must not retain the slice.
func (s *Secret) Use(fn func(derivative []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.b == nil {
		return ErrSecretWiped
	}
	return fn(s.b)
}

// Wipe zeroes the derivative. A wiped Secret cannot be used again.
func (s *Secret) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.b)
	s.b = nil
}

func (s *Secret) Wiped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.b == nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
