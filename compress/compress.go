// Package compress implements the pluggable frame-body compression codecs
// negotiated during STARTUP (spec.md §3's "none|snappy|lz4" field). The
// connection state machine selects a Codec by the negotiated COMPRESSION
// string; frame encoding/decoding never depends on a specific algorithm.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Name identifies a negotiated compression algorithm.
type Name string

const (
	None   Name = ""
	Snappy Name = "snappy"
	LZ4    Name = "lz4"
)

// Codec compresses and decompresses frame bodies. Implementations must be
// safe for reuse across many frames on the same connection but are not
// required to be safe for concurrent use — the connection's owning
// event-loop goroutine is the only caller, per the single-writer model.
type Codec interface {
	Name() Name
	Compress(plain []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// ByName returns the Codec for a negotiated COMPRESSION value, or nil (and
// no error) for the empty string, meaning no compression.
func ByName(name Name) (Codec, error) {
	switch name {
	case None:
		return nil, nil
	case Snappy:
		return snappyCodec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown negotiated algorithm %q", name)
	}
}

type snappyCodec struct{}

func (snappyCodec) Name() Name { return Snappy }

func (snappyCodec) Compress(plain []byte) ([]byte, error) {
	return snappy.Encode(nil, plain), nil
}

func (snappyCodec) Decompress(compressed []byte) ([]byte, error) {
	return snappy.Decode(nil, compressed)
}

type lz4Codec struct{}

func (lz4Codec) Name() Name { return LZ4 }

func (lz4Codec) Compress(plain []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lz4Codec) Decompress(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
