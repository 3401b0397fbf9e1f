package vault

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/internal/atomicfile"
)

var ErrNoFragment = errors.New("vault: no local fragment")

// FragmentStore keeps this node's fragment on disk.
// File format: nonce || AEAD(fragment), keyed by the password derivative.
type FragmentStore struct {
	mu     sync.Mutex
	path   string
	secret *crypto.Secret
}

func NewFragmentStore(path string, secret *crypto.Secret) *FragmentStore {
	return &FragmentStore{path: path, secret: secret}
}

func (s *FragmentStore) Path() string { return s.path }

// Save replaces the stored fragment with f.
func (s *FragmentStore) Save(f Fragment) error {
	plain, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	defer crypto.Zero(plain)

	var sealed []byte
	err = s.secret.Use(func(d []byte) error {
		var err error
		sealed, err = crypto.Encrypt(plain, d)
		return err
	})
	if err != nil {
		return fmt.Errorf("seal fragment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicfile.WriteFile(s.path, sealed, 0o600)
}

// Load returns the stored fragment, or ErrNoFragment if none was saved.
func (s *FragmentStore) Load() (Fragment, error) {
	s.mu.Lock()
	sealed, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Fragment{}, ErrNoFragment
		}
		return Fragment{}, fmt.Errorf("read fragment: %w", err)
	}

	var plain []byte
	err = s.secret.Use(func(d []byte) error {
		var err error
		plain, err = crypto.Decrypt(sealed, d)
		return err
	})
	if err != nil {
		return Fragment{}, fmt.Errorf("open fragment: %w", err)
	}
	defer crypto.Zero(plain)
	return UnmarshalFragment(plain)
}

// Remove deletes the stored fragment.
func (s *FragmentStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
