package vault

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/TheusHen/DPM/dpm/crypto"
)

var (
	ErrInvalidFragment = errors.New("vault: invalid fragment")
	ErrInvalidCount    = errors.New("vault: fragment count must be at least 1")
)

// Fragment is one share of a serialized vault. Mask[i] is the offset in the
// serialized vault that Data[i] belongs to.
//
// A fragment with TotalSize 0 is empty: it stands for a node that holds no
// share and never contributes bytes.
type Fragment struct {
	Mask      []uint32
	Data      []byte
	TotalSize uint32
}

func (f Fragment) Empty() bool { return f.TotalSize == 0 }

func (f Fragment) Len() int { return len(f.Data) }

func (f Fragment) Validate() error {
	if len(f.Mask) != len(f.Data) {
		return fmt.Errorf("%w: %d offsets for %d bytes", ErrInvalidFragment, len(f.Mask), len(f.Data))
	}
	if uint64(len(f.Mask)) > uint64(f.TotalSize) {
		return fmt.Errorf("%w: %d bytes exceed total size %d", ErrInvalidFragment, len(f.Mask), f.TotalSize)
	}
	for _, off := range f.Mask {
		if off >= f.TotalSize {
			return fmt.Errorf("%w: offset %d out of range", ErrInvalidFragment, off)
		}
	}
	return nil
}

// Wipe zeroes the fragment's bytes.
func (f Fragment) Wipe() { crypto.Zero(f.Data) }

// MarshalBinary encodes the fragment.
// Format:
//
//	4 bytes: total size
//	4 bytes: count n
//	4*n bytes: offsets
//	n bytes: data
func (f Fragment) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 8+5*len(f.Data))
	out = binary.BigEndian.AppendUint32(out, f.TotalSize)
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.Mask)))
	for _, off := range f.Mask {
		out = binary.BigEndian.AppendUint32(out, off)
	}
	return append(out, f.Data...), nil
}

// UnmarshalFragment decodes the output of Fragment.MarshalBinary.
func UnmarshalFragment(b []byte) (Fragment, error) {
	if len(b) < 8 {
		return Fragment{}, fmt.Errorf("%w: short header", ErrInvalidFragment)
	}
	total := binary.BigEndian.Uint32(b[0:4])
	n := binary.BigEndian.Uint32(b[4:8])
	if uint64(len(b)-8) != 5*uint64(n) {
		return Fragment{}, fmt.Errorf("%w: length does not match count %d", ErrInvalidFragment, n)
	}
	f := Fragment{
		Mask:      make([]uint32, n),
		Data:      make([]byte, n),
		TotalSize: total,
	}
	off := 8
	for i := range f.Mask {
		f.Mask[i] = binary.BigEndian.Uint32(b[off:])
		off += 4
	}
	copy(f.Data, b[off:])
	if err := f.Validate(); err != nil {
		return Fragment{}, err
	}
	return f, nil
}

// indexPicker draws unbiased fragment indexes from crypto/rand.
type indexPicker struct {
	r     *bufio.Reader
	n     uint32
	limit uint32
}

func newIndexPicker(n int) *indexPicker {
	un := uint32(n)
	return &indexPicker{
		r:     bufio.NewReader(rand.Reader),
		n:     un,
		limit: (math.MaxUint32 / un) * un,
	}
}

func (p *indexPicker) next() (int, error) {
	if p.n == 1 {
		return 0, nil
	}
	var b [4]byte
	for {
		if _, err := io.ReadFull(p.r, b[:]); err != nil {
			return 0, err
		}
		if v := binary.BigEndian.Uint32(b[:]); v < p.limit {
			return int(v % p.n), nil
		}
	}
}

// Split serializes v and scatters its bytes over n fragments.
// Small vaults may leave some fragments without any bytes.
func Split(v *Vault, n int) ([]Fragment, error) {
	if n < 1 || uint64(n) > math.MaxUint32 {
		return nil, ErrInvalidCount
	}
	data, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(data)
	if uint64(len(data)) >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: vault too large", ErrInvalidFragment)
	}

	frags := make([]Fragment, n)
	for i := range frags {
		frags[i].TotalSize = uint32(len(data))
	}
	pick := newIndexPicker(n)
	for i, b := range data {
		k, err := pick.next()
		if err != nil {
			return nil, err
		}
		frags[k].Mask = append(frags[k].Mask, uint32(i))
		frags[k].Data = append(frags[k].Data, b)
	}
	return frags, nil
}
