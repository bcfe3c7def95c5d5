package store

import (
	"errors"

	"github.com/klauspost/compress/zstd"
)

// Zstd is a Compressor using Zstandard. Encoder and decoder are created once
// and are safe for concurrent EncodeAll/DecodeAll use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ Compressor = (*Zstd)(nil)

// NewZstd builds a Zstd compressor at the default speed level.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Compress returns the zstd frame for in. Empty input yields empty output.
func (z *Zstd) Compress(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return []byte{}, nil
	}
	return z.enc.EncodeAll(in, make([]byte, 0, len(in))), nil
}

// Decompress reverses Compress.
func (z *Zstd) Decompress(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return []byte{}, nil
	}
	// min size for magic number = 4 bytes
	if len(in) < 4 {
		return nil, errors.New("zstd: frame too short")
	}
	return z.dec.DecodeAll(in, make([]byte, 0, len(in)*2))
}

// Close releases encoder and decoder resources.
func (z *Zstd) Close() {
	_ = z.enc.Close()
	z.dec.Close()
}
