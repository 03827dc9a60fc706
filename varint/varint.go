// Package varint implements the QUIC variable-length integer encoding
// (distinct from the prefix-integer codec the header block itself uses)
// that acknowledgement frames are built from: a two-bit length tag in the
// first byte's most significant bits selects a 1, 2, 4, or 8 byte
// encoding carrying a 6, 14, 30, or 62 bit value respectively.
package varint

import (
	"errors"
	"io"
)

// ErrOutOfRange reports that a value is too large to be encoded (more than
// 62 bits). Decode does not return it: a non-minimal encoding decodes to
// its value like any other.
var ErrOutOfRange = errors.New("varint: value out of range")

const maxValue = (uint64(1) << 62) - 1

// Len returns the number of bytes Encode(v) would write.
func Len(v uint64) int {
	switch {
	case v <= 0x3f:
		return 1
	case v <= 0x3fff:
		return 2
	case v <= 0x3fffffff:
		return 4
	default:
		return 8
	}
}

// Encode appends the QUIC variable-length encoding of v to dst and
// returns the result, using the shortest of the four encodings that can
// hold it.
func Encode(dst []byte, v uint64) ([]byte, error) {
	if v > maxValue {
		return nil, ErrOutOfRange
	}
	switch Len(v) {
	case 1:
		return append(dst, byte(v)), nil
	case 2:
		return append(dst, byte(0x40|(v>>8)), byte(v)), nil
	case 4:
		return append(dst, byte(0x80|(v>>24)), byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return append(dst,
			byte(0xc0|(v>>56)), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	}
}

// Decode reads a QUIC variable-length integer from r and returns its
// value together with the number of bytes consumed.
func Decode(r io.ByteReader) (uint64, int, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	n := 1 << (first >> 6) // 1, 2, 4, or 8
	v := uint64(first & 0x3f)
	for i := 1; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		v = (v << 8) | uint64(b)
	}
	return v, n, nil
}
