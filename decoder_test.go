package qpack

import (
	"bytes"
	"testing"

	"github.com/stvp/assert"
)

func TestDecoderStaticOnlyBlock(t *testing.T) {
	var updates, acks bytes.Buffer
	enc := NewEncoder(&updates, DefaultConfig(), 0)
	dec := NewDecoder(&acks, DefaultConfig())

	block, err := enc.Encode(1, []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
	})
	assert.Nil(t, err)

	headers, blocked, err := dec.Decode(1, block)
	assert.Nil(t, err)
	assert.False(t, blocked)
	assert.Equal(t, []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
	}, headers)
}

func TestDecoderInsertThenReference(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	dec := NewDecoder(&acks, cfg)

	block, err := enc.Encode(1, []HeaderField{{Name: "x-custom", Value: "alpha"}})
	assert.Nil(t, err)
	assert.True(t, updates.Len() > 0)

	ready, err := dec.Update(updates.Bytes())
	assert.Nil(t, err)
	assert.Nil(t, ready)
	assert.Equal(t, uint64(1), dec.table.Base())

	headers, blocked, err := dec.Decode(1, block)
	assert.Nil(t, err)
	assert.False(t, blocked)
	assert.Equal(t, []HeaderField{{Name: "x-custom", Value: "alpha"}}, headers)
}

func TestDecoderBlocksThenResumes(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	dec := NewDecoder(&acks, cfg)

	block, err := enc.Encode(1, []HeaderField{{Name: "x-custom", Value: "alpha"}})
	assert.Nil(t, err)
	assert.True(t, updates.Len() > 0)

	// Header block arrives before the table update: the decoder must not
	// block internally, it must report blocked == true and return.
	headers, blocked, err := dec.Decode(1, block)
	assert.Nil(t, err)
	assert.True(t, blocked)
	assert.Nil(t, headers)

	ready, err := dec.Update(updates.Bytes())
	assert.Nil(t, err)
	assert.Equal(t, []uint64{1}, ready)

	headers, blocked, err = dec.Resume(1)
	assert.Nil(t, err)
	assert.False(t, blocked)
	assert.Equal(t, []HeaderField{{Name: "x-custom", Value: "alpha"}}, headers)
}

func TestDecoderResumeWithoutPendingBlockErrors(t *testing.T) {
	var acks bytes.Buffer
	dec := NewDecoder(&acks, DefaultConfig())
	_, _, err := dec.Resume(99)
	assert.NotNil(t, err)
}

func TestDecoderCancelledDiscardsPendingBlock(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	dec := NewDecoder(&acks, cfg)

	block, err := enc.Encode(1, []HeaderField{{Name: "x-custom", Value: "alpha"}})
	assert.Nil(t, err)

	_, blocked, err := dec.Decode(1, block)
	assert.Nil(t, err)
	assert.True(t, blocked)

	assert.Nil(t, dec.Cancelled(1))
	assert.True(t, acks.Len() > 0)

	_, _, err = dec.Resume(1)
	assert.NotNil(t, err)
}

func TestDecoderFlushInsertCountIncrement(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	dec := NewDecoder(&acks, cfg)

	// No insertions yet: nothing to flush.
	assert.Nil(t, dec.FlushInsertCountIncrement())
	assert.Equal(t, 0, acks.Len())

	_, err := enc.Encode(1, []HeaderField{{Name: "x-custom", Value: "alpha"}})
	assert.Nil(t, err)
	_, err = dec.Update(updates.Bytes())
	assert.Nil(t, err)

	assert.Nil(t, dec.FlushInsertCountIncrement())
	assert.True(t, acks.Len() > 0)

	acks.Reset()
	// Flushing again with nothing new is a no-op.
	assert.Nil(t, dec.FlushInsertCountIncrement())
	assert.Equal(t, 0, acks.Len())
}

func TestDecoderReadsPostBaseRepresentations(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	dec := NewDecoder(&acks, cfg)

	_, err := enc.Encode(1, []HeaderField{{Name: "x-custom", Value: "alpha"}})
	assert.Nil(t, err)
	_, err = dec.Update(updates.Bytes())
	assert.Nil(t, err)

	// Hand-build a block using the post-base representations (spec.md
	// §4.5's `0000xxxx`/`0001xxxx` tags) this encoder's own base choice
	// (base == requiredInsert, see encoder.go's resolveDynamicRefs) never
	// produces, but that a block from another encoder still must decode.
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.Nil(t, w.WriteInt(0, 8)) // Required Insert Count = 0
	assert.Nil(t, w.WriteBit(0))    // sign
	assert.Nil(t, w.WriteInt(0, 7)) // delta = 0, so base = 0

	assert.Nil(t, w.WriteBits(0x0, 4)) // 0000: Indexed Field Line With Post-Base Index
	assert.Nil(t, w.WriteInt(0, 4))    // offset 0 -> absolute index base+0 = 0

	assert.Nil(t, w.WriteBits(0x1, 4)) // 0001: Literal Field Line With Post-Base Name Reference
	assert.Nil(t, w.WriteBit(0))       // never-indexed
	assert.Nil(t, w.WriteInt(0, 3))    // offset 0 -> absolute index base+0 = 0, name "x-custom"
	assert.Nil(t, w.WriteString("beta", 7, HuffmanNever))

	assert.Nil(t, w.Pad(0xff))

	headers, blocked, err := dec.Decode(2, buf.Bytes())
	assert.Nil(t, err)
	assert.False(t, blocked)
	assert.Equal(t, []HeaderField{
		{Name: "x-custom", Value: "alpha"},
		{Name: "x-custom", Value: "beta"},
	}, headers)
}

func TestDecoderMaxHeaderListSizeRejectsOversizedBlock(t *testing.T) {
	var updates, acks bytes.Buffer
	cfg := DefaultConfig()
	enc := NewEncoder(&updates, cfg, 0)
	cfg.MaxHeaderListSize = 10
	dec := NewDecoder(&acks, cfg)

	block, err := enc.Encode(1, []HeaderField{
		{Name: "x-long-header-name", Value: "a-fairly-long-value"},
	})
	assert.Nil(t, err)
	_, err = dec.Update(updates.Bytes())
	assert.Nil(t, err)

	_, _, err = dec.Decode(1, block)
	assert.NotNil(t, err)
}
