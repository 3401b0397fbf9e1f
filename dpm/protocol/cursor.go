package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("protocol malformed packet")

// writer appends fields to an owned buffer.
type writer struct {
	buf []byte
}

func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

// bytes writes b with a 4-byte length prefix.
func (w *writer) bytes(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader consumes fields from b. The first failure sticks; callers check it
// once through finish.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.b)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d", ErrMalformed, n, r.off)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// raw returns an owned copy of the next n bytes.
func (r *reader) raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func (r *reader) bytes() []byte {
	hdr := r.take(4)
	if hdr == nil {
		return nil
	}
	return r.raw(int(binary.BigEndian.Uint32(hdr)))
}

// rest returns an owned copy of everything left.
func (r *reader) rest() []byte {
	return r.raw(len(r.b) - r.off)
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b)-r.off)
	}
	return nil
}
