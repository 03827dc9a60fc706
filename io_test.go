package qpack

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"
)

func TestWriteReadIntRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 30, 31, 32, 126, 127, 128, 1337, 1 << 20, 1 << 40}
	for _, prefix := range []byte{1, 3, 5, 7, 8} {
		for _, v := range values {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			assert.Nil(t, w.WriteInt(v, prefix))
			// Flush the partial final octet a prefix narrower than 8 bits
			// leaves buffered in the bit writer.
			assert.Nil(t, w.Pad(0))

			r := NewReader(&buf)
			got, err := r.ReadInt(prefix)
			assert.Nil(t, err)
			assert.Equal(t, v, got)
		}
	}
}

func TestWriteReadStringRoundTripHuffmanAuto(t *testing.T) {
	strs := []string{"", "a", "content-type", "https://www.example.com/path?query=1", "!!!###$$$"}
	for _, s := range strs {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		assert.Nil(t, w.WriteString(s, 7, HuffmanAuto))

		r := NewReader(&buf)
		got, err := r.ReadString(7)
		assert.Nil(t, err)
		assert.Equal(t, s, got)
	}
}

func TestWriteReadStringRoundTripHuffmanAlwaysAndNever(t *testing.T) {
	s := "example-header-value"
	for _, choice := range []HuffmanChoice{HuffmanAlways, HuffmanNever} {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		assert.Nil(t, w.WriteString(s, 7, choice))

		r := NewReader(&buf)
		got, err := r.ReadString(7)
		assert.Nil(t, err)
		assert.Equal(t, s, got)
	}
}

func TestReadIntOverflow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.Nil(t, w.WriteBits(0x7f, 7)) // all-ones prefix: continuation follows
	// Ten continuation bytes, each with the high bit set, never terminates
	// and must overflow rather than loop forever.
	for i := 0; i < 10; i++ {
		assert.Nil(t, w.WriteByte(0xff))
	}
	r := NewReader(&buf)
	_, err := r.ReadInt(7)
	assert.NotNil(t, err)
}

func TestReadStringTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.Nil(t, w.WriteString("hello world", 7, HuffmanNever))
	truncated := buf.Bytes()[:buf.Len()-2]

	r := NewReader(bytes.NewReader(truncated))
	_, err := r.ReadString(7)
	assert.NotNil(t, err)
}
