package vault

import (
	"errors"
	"fmt"

	"github.com/TheusHen/DPM/dpm/crypto"
)

var (
	ErrSizeMismatch = errors.New("vault: fragments disagree on total size")
	ErrIncomplete   = errors.New("vault: reconstruction incomplete")
)

// Builder accumulates fragments until every byte of the serialized vault is known.
type Builder struct {
	buf     []byte
	filled  []bool
	total   uint32
	written int
	started bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add writes the bytes of f. Empty fragments are ignored. The first non-empty
// fragment fixes the total size; later ones must agree. An offset supplied
// twice rejects the whole fragment.
func (b *Builder) Add(f Fragment) error {
	if f.Empty() {
		return nil
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if !b.started {
		b.total = f.TotalSize
		b.buf = make([]byte, f.TotalSize)
		b.filled = make([]bool, f.TotalSize)
		b.started = true
	} else if f.TotalSize != b.total {
		return fmt.Errorf("%w: %d != %d", ErrSizeMismatch, f.TotalSize, b.total)
	}

	for i, off := range f.Mask {
		if b.filled[off] {
			for _, prev := range f.Mask[:i] {
				b.filled[prev] = false
			}
			return fmt.Errorf("%w: offset %d supplied twice", ErrInvalidFragment, off)
		}
		b.filled[off] = true
	}
	for i, off := range f.Mask {
		b.buf[off] = f.Data[i]
	}
	b.written += len(f.Mask)
	return nil
}

// Complete reports whether every byte has been written.
func (b *Builder) Complete() bool {
	return b.started && b.written == int(b.total)
}

// Build decodes the accumulated bytes. It fails with ErrIncomplete until Complete.
func (b *Builder) Build() (*Vault, error) {
	if !b.Complete() {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, b.written, b.total)
	}
	defer crypto.Zero(b.buf)
	return Unmarshal(b.buf)
}

// Reconstruct rebuilds a vault from a full fragment set.
func Reconstruct(frags []Fragment) (*Vault, error) {
	b := NewBuilder()
	for _, f := range frags {
		if err := b.Add(f); err != nil {
			return nil, err
		}
	}
	return b.Build()
}
