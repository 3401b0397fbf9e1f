package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var ErrCorrupt = errors.New("vault: corrupted data")

const (
	codecRaw byte = 0
	codecLZ4 byte = 1

	documentVersion = 1

	// maxDocument bounds decompression of a serialized vault.
	maxDocument = 64 << 20
)

type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// compressorPool reuses LZ4 writers to reduce allocations.
var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)
	_ = w.Apply(lz4.CompressionLevelOption(lz4.Level4))
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxDocument+1))
	if err != nil {
		return nil, err
	}
	if n > maxDocument {
		return nil, errors.New("document too large")
	}
	return buf.Bytes(), nil
}

// MarshalBinary serializes the vault. The first byte names the codec; the
// JSON document is lz4-compressed when that makes it smaller.
func (v *Vault) MarshalBinary() ([]byte, error) {
	entries := v.entries
	if entries == nil {
		entries = []Entry{}
	}
	doc, err := json.Marshal(document{Version: documentVersion, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode vault: %w", err)
	}

	if packed, err := compress(doc); err == nil && len(packed) < len(doc) {
		return append([]byte{codecLZ4}, packed...), nil
	}
	return append([]byte{codecRaw}, doc...), nil
}

// Unmarshal decodes the output of MarshalBinary.
func Unmarshal(data []byte) (*Vault, error) {
	if len(data) == 0 {
		return nil, ErrCorrupt
	}
	body := data[1:]
	switch data[0] {
	case codecRaw:
	case codecLZ4:
		var err error
		if body, err = decompress(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, data[0])
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}

	v := New()
	for _, e := range doc.Entries {
		if err := v.Add(e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return v, nil
}
