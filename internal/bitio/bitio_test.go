package bitio_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stvp/assert"

	"github.com/qpackio/qpack/internal/bitio"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	writer := bitio.NewWriter(&buf)
	assert.Nil(t, writer.WriteBit(0))
	assert.Equal(t, 0, len(buf.Bytes()))
	assert.Nil(t, writer.WriteBit(1))
	assert.Equal(t, 0, len(buf.Bytes()))
	assert.Nil(t, writer.WriteBits(1, 7))
	assert.Equal(t, []byte{0x40}, buf.Bytes())
	assert.Nil(t, writer.Pad(0x55))
	assert.Equal(t, []byte{0x40, 0xaa}, buf.Bytes())
	assert.Nil(t, writer.WriteBits(1, 64))
	assert.Equal(t, []byte{0x40, 0xaa, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		buf.Bytes())
	assert.Nil(t, writer.WriteBits(1, 3))
	assert.Nil(t, writer.WriteBits(^uint64(0), 64))
	assert.Nil(t, writer.Pad(0x03))
	assert.Equal(t, []byte{0x40, 0xaa, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x3f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xe0},
		buf.Bytes())
}

type blockingByteWriter struct {
	writer     io.ByteWriter
	writesLeft int
}

func (bbw *blockingByteWriter) WriteByte(b byte) error {
	bbw.writesLeft--
	if bbw.writesLeft == 0 {
		return io.ErrShortWrite
	}
	return bbw.writer.WriteByte(b)
}

func (bbw *blockingByteWriter) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := bbw.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func TestBlockingWrite(t *testing.T) {
	var buf bytes.Buffer
	writer := bitio.NewWriter(&blockingByteWriter{&buf, 1})
	assert.Nil(t, writer.WriteBit(1)) // buffered
	assert.NotNil(t, writer.WriteBits(1, 7))
	assert.Nil(t, writer.WriteBits(1, 7))
	assert.Equal(t, []byte{0x81}, buf.Bytes())

	buf.Truncate(0)
	writer = bitio.NewWriter(&blockingByteWriter{&buf, 2})
	assert.NotNil(t, writer.WriteBits(0xffff, 16))
	assert.Equal(t, []byte{0xff}, buf.Bytes())
	assert.Nil(t, writer.WriteBits(0x5555, 16))
	assert.Equal(t, []byte{0xff, 0xff, 0x55, 0x55}, buf.Bytes())
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	writer := bitio.NewWriter(&buf)
	assert.NotNil(t, writer.WriteBits(1, 65))
	assert.NotNil(t, writer.WriteBits(2, 1))
}

func TestReader(t *testing.T) {
	buf := bytes.NewReader([]byte{0x40, 0xaa, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x3f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xe0})
	reader := bitio.NewReader(buf)
	b, err := reader.ReadBit()
	assert.Nil(t, err)
	assert.Equal(t, uint8(0), b)
	b, err = reader.ReadBit()
	assert.Nil(t, err)
	assert.Equal(t, uint8(1), b)
	v, err := reader.ReadBits(7)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = reader.ReadBits(7)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x55>>1), v)
	v, err = reader.ReadBits(64)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = reader.ReadBits(3)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = reader.ReadBits(64)
	assert.Nil(t, err)
	assert.Equal(t, ^uint64(0), v)
	v, err = reader.ReadBits(5)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x03>>3), v)
}

type blockingByteReader struct {
	reader    io.ByteReader
	readsLeft int
}

func (bbr *blockingByteReader) ReadByte() (byte, error) {
	bbr.readsLeft--
	if bbr.readsLeft == 0 {
		return 0, io.ErrNoProgress
	}
	return bbr.reader.ReadByte()
}

func (bbr *blockingByteReader) Read(p []byte) (int, error) {
	for i := range p {
		b, err := bbr.ReadByte()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

func TestBlockingRead(t *testing.T) {
	buf := bytes.NewReader([]byte{0x81, 0xff})
	reader := bitio.NewReader(&blockingByteReader{buf, 2})
	v, err := reader.ReadBits(8)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x81), v)
	_, err = reader.ReadBits(8)
	assert.NotNil(t, err)
}
