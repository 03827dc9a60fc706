package varint_test

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"

	"github.com/qpackio/qpack/varint"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x3f, 0x40, 0x3fff, 0x4000, 0x3fffffff, 0x40000000,
		1<<62 - 1, 1000, 1000000, 1000000000000}
	for _, v := range values {
		enc, err := varint.Encode(nil, v)
		assert.Nil(t, err)
		got, n, err := varint.Decode(bytes.NewReader(enc))
		assert.Nil(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestLenMatchesEncodedSize(t *testing.T) {
	for _, v := range []uint64{0, 0x3f, 0x40, 0x3fff, 0x4000, 0x3fffffff, 0x40000000, 1<<62 - 1} {
		enc, err := varint.Encode(nil, v)
		assert.Nil(t, err)
		assert.Equal(t, varint.Len(v), len(enc))
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	_, err := varint.Encode(nil, 1<<62)
	assert.NotNil(t, err)
}

func TestEncodeAppendsToExistingBuffer(t *testing.T) {
	dst := []byte{0xaa}
	enc, err := varint.Encode(dst, 5)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xaa, 5}, enc)
}

func TestDecodeShortRead(t *testing.T) {
	// Tag byte claims 4 bytes but none follow it.
	_, _, err := varint.Decode(bytes.NewReader([]byte{0x80}))
	assert.NotNil(t, err)
}
