package qpack

import (
	"bytes"
	"io"

	"github.com/qpackio/qpack/varint"
)

// Acknowledgement instruction tags: a one-byte discriminator ahead of a
// QUIC variable-length integer payload (spec.md §4.6, §6 — the encoder
// stream and header block each have spec-defined bit-pattern dispatch,
// but the ack channel back to the encoder is only specified as "QUIC
// varints"; this is the tag scheme this implementation settles on).
const (
	ackInsertCountIncrement  byte = 0x00
	ackSectionAcknowledgment byte = 0x01
	ackStreamCancellation    byte = 0x02
)

// pendingBlock is a header block that arrived before the dynamic table
// held enough insertions to decode it. Grounded on
// original_source/hpack/qpack.py's blocked-stream bookkeeping: rather
// than the teacher's goroutine blocking inside WaitForEntry/sync.Cond,
// spec.md §5's single-threaded cooperative model requires that no
// operation here ever suspends — Decode returns immediately with
// blocked=true, the bytes are parked, and the caller retries via Resume
// once Update reports the stream ready.
type pendingBlock struct {
	data           []byte
	requiredInsert uint64
}

// Decoder turns QPACK-encoded header blocks back into header lists,
// applying dynamic table mutations read from a separate instruction
// stream. Grounded on hc/qpackdecoder.go's QpackDecoder (the later
// generation, with stream-cancellation support — see DESIGN.md).
type Decoder struct {
	logged
	table     *DynamicTable
	config    Config
	ackWriter io.Writer

	pending map[uint64]*pendingBlock
	tracker *StreamTracker

	sentInsertCount uint64
}

// NewDecoder creates a decoder that writes acknowledgement instructions
// (Section Acknowledgment, Stream Cancellation, Insert Count Increment)
// to acks as they're generated, each as a one-byte tag followed by a QUIC
// variable-length integer payload (spec.md §4.6).
func NewDecoder(acks io.Writer, cfg Config) *Decoder {
	d := &Decoder{
		table:     NewDynamicTable(cfg.MaxTableCapacity, 0),
		config:    cfg,
		ackWriter: acks,
		pending:   make(map[uint64]*pendingBlock),
		tracker:   NewStreamTracker(),
	}
	d.initLogging()
	return d
}

// Update applies the dynamic table mutation instructions encoded in data
// (Insert With Name Reference, Insert With Literal Name, Duplicate, Set
// Dynamic Table Capacity) and returns the IDs of any previously blocked
// streams that can now be resumed. Unlike header blocks, the encoder
// instruction stream is never padded, so data must hold only whole
// instructions: callers reading from a QUIC unidirectional stream should
// buffer any trailing partial instruction themselves and include it with
// the next call rather than passing a byte run that ends mid-instruction.
func (d *Decoder) Update(data []byte) ([]uint64, error) {
	r := NewReader(bytes.NewReader(data))
	for {
		bit, err := r.ReadBit()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newError(ErrMalformed, "truncated table update instruction: %v", err)
		}
		if bit == 1 {
			if err := d.readInsertWithNameRef(r); err != nil {
				return nil, err
			}
			continue
		}
		bit2, err := r.ReadBit()
		if err != nil {
			return nil, newError(ErrMalformed, "truncated table update instruction: %v", err)
		}
		if bit2 == 1 {
			if err := d.readInsertWithLiteralName(r); err != nil {
				return nil, err
			}
			continue
		}
		bit3, err := r.ReadBit()
		if err != nil {
			return nil, newError(ErrMalformed, "truncated table update instruction: %v", err)
		}
		if bit3 == 1 {
			if err := d.readSetCapacity(r); err != nil {
				return nil, err
			}
			continue
		}
		if err := d.readDuplicate(r); err != nil {
			return nil, err
		}
	}

	if max := d.config.MaxTableCapacity; max != 0 && d.table.Capacity() > max {
		return nil, newError(ErrInvalidTableSize, "table capacity %d exceeds negotiated maximum %d", d.table.Capacity(), max)
	}

	resumed := d.tracker.PopReady(d.table.Base())
	if len(resumed) > 0 {
		d.logger.Infow("streams resumed after table update", "stream_ids", resumed, "insert_count", d.table.Base())
	}
	return resumed, nil
}

func (d *Decoder) readInsertWithNameRef(r *Reader) error {
	static, err := r.ReadBit()
	if err != nil {
		return newError(ErrMalformed, "truncated insert-with-name-reference: %v", err)
	}
	idx, err := r.ReadInt(6)
	if err != nil {
		return newError(ErrMalformed, "truncated insert-with-name-reference index: %v", err)
	}
	value, err := r.ReadString(7)
	if err != nil {
		return err
	}
	var name string
	if static != 0 {
		e, ok := getStatic(idx)
		if !ok {
			return newError(ErrInvalidRef, "insert referenced unknown static index %d", idx)
		}
		name = e.name
	} else {
		e, ok := d.table.entryByIndex(d.table.Base() - 1 - idx)
		if !ok {
			return newError(ErrInvalidRef, "insert referenced unknown dynamic index %d", idx)
		}
		name = e.Name
	}
	_, err = d.table.Insert(name, value, allowAllEvictions)
	if err != nil {
		return err
	}
	return nil
}

func (d *Decoder) readInsertWithLiteralName(r *Reader) error {
	name, err := r.ReadString(5)
	if err != nil {
		return err
	}
	value, err := r.ReadString(7)
	if err != nil {
		return err
	}
	_, err = d.table.Insert(name, value, allowAllEvictions)
	return err
}

func (d *Decoder) readDuplicate(r *Reader) error {
	idx, err := r.ReadInt(5)
	if err != nil {
		return newError(ErrMalformed, "truncated duplicate index: %v", err)
	}
	abs := d.table.Base() - 1 - idx
	_, err = d.table.Duplicate(abs, allowAllEvictions)
	return err
}

func (d *Decoder) readSetCapacity(r *Reader) error {
	capacity, err := r.ReadInt(5)
	if err != nil {
		return newError(ErrMalformed, "truncated set-capacity: %v", err)
	}
	return d.table.SetCapacity(capacity, d.config.MaxTableCapacity, allowAllEvictions)
}

// Decode decodes one stream's header block. If the block references
// table state that hasn't arrived yet, it returns blocked == true and
// parks the bytes internally; call Resume(streamID) after a subsequent
// Update reports this stream ready.
func (d *Decoder) Decode(streamID uint64, data []byte) (headers []HeaderField, blocked bool, err error) {
	requiredInsert, err := peekRequiredInsertCount(data)
	if err != nil {
		return nil, false, err
	}
	if requiredInsert > d.table.Base() {
		if d.tracker.Len() >= int(d.config.MaxBlockedStreams) {
			if _, tracked := d.pending[streamID]; !tracked {
				return nil, false, newError(ErrTooLarge, "blocked stream limit exceeded")
			}
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		d.pending[streamID] = &pendingBlock{data: cp, requiredInsert: requiredInsert}
		d.tracker.Insert(streamID, requiredInsert)
		d.logger.Infow("stream blocked on dynamic table insertion",
			"stream_id", streamID, "required_insert_count", requiredInsert, "insert_count", d.table.Base())
		return nil, true, nil
	}
	headers, err = d.decodeBlock(data)
	if err != nil {
		return nil, false, err
	}
	if err := d.acknowledgeSection(streamID, requiredInsert); err != nil {
		return nil, false, err
	}
	return headers, false, nil
}

// Resume retries a previously blocked stream. It must only be called
// for a streamID Update most recently reported ready; calling it for a
// stream that's still blocked returns blocked == true again.
func (d *Decoder) Resume(streamID uint64) (headers []HeaderField, blocked bool, err error) {
	pb, ok := d.pending[streamID]
	if !ok {
		return nil, false, newError(ErrInvalidRef, "no blocked header block for stream %d", streamID)
	}
	if pb.requiredInsert > d.table.Base() {
		return nil, true, nil
	}
	delete(d.pending, streamID)
	headers, err = d.decodeBlock(pb.data)
	if err != nil {
		return nil, false, err
	}
	if err := d.acknowledgeSection(streamID, pb.requiredInsert); err != nil {
		return nil, false, err
	}
	return headers, false, nil
}

// peekRequiredInsertCount reads just the header block prefix's Required
// Insert Count without consuming the caller's copy of data.
func peekRequiredInsertCount(data []byte) (uint64, error) {
	r := NewReader(bytes.NewReader(data))
	v, err := r.ReadInt(8)
	if err != nil {
		return 0, newError(ErrMalformed, "truncated header block prefix: %v", err)
	}
	return v, nil
}

func (d *Decoder) decodeBlock(data []byte) ([]HeaderField, error) {
	br := bytes.NewReader(data)
	r := NewReader(br)
	requiredInsert, err := r.ReadInt(8)
	if err != nil {
		return nil, newError(ErrMalformed, "truncated header block prefix: %v", err)
	}
	sign, err := r.ReadBit()
	if err != nil {
		return nil, newError(ErrMalformed, "truncated header block prefix: %v", err)
	}
	delta, err := r.ReadInt(7)
	if err != nil {
		return nil, newError(ErrMalformed, "truncated header block prefix: %v", err)
	}
	// base = requiredInsert - delta for sign=1 (no off-by-one), matching
	// original_source/hpack/qpack.py's _decode_prefix: sign=1, delta=0
	// would reach the same base as sign=0, delta=0 and is rejected as
	// that redundant encoding rather than accepted as a distinct value.
	var base uint64
	if sign == 0 {
		base = requiredInsert + delta
	} else if delta != 0 {
		if delta > requiredInsert {
			return nil, newError(ErrMalformed, "base delta underflows required insert count")
		}
		base = requiredInsert - delta
	} else {
		return nil, newError(ErrMalformed, "invalid base sign/delta: sign=1, delta=0")
	}

	var headers []HeaderField
	var totalSize uint64
	// Encode pads the block's final partial byte with one bits (Writer.Pad),
	// so trailing bits buffered after the underlying byte source is drained
	// are always padding, never the start of a genuine representation: the
	// smallest representation (an Indexed Field Line with a one-byte
	// index) is a full 8 bits, and br.Len() == 0 can only coincide with
	// fewer than 8 bits still buffered.
	for br.Len() > 0 {
		bit, err := r.ReadBit()
		if err != nil {
			return nil, newError(ErrMalformed, "truncated representation: %v", err)
		}
		var hf HeaderField
		if bit == 1 {
			hf, err = d.readIndexed(r, base)
		} else {
			bit2, err2 := r.ReadBit()
			if err2 != nil {
				return nil, newError(ErrMalformed, "truncated representation: %v", err2)
			}
			if bit2 == 1 {
				hf, err = d.readLiteralNameRef(r, base)
			} else {
				bit3, err3 := r.ReadBit()
				if err3 != nil {
					return nil, newError(ErrMalformed, "truncated representation: %v", err3)
				}
				if bit3 == 1 {
					hf, err = d.readLiteralLiteralName(r)
				} else {
					bit4, err4 := r.ReadBit()
					if err4 != nil {
						return nil, newError(ErrMalformed, "truncated representation: %v", err4)
					}
					if bit4 == 0 {
						hf, err = d.readIndexedPostBase(r, base)
					} else {
						hf, err = d.readLiteralPostBaseNameRef(r, base)
					}
				}
			}
		}
		if err != nil {
			return nil, err
		}
		totalSize += hf.size()
		if max := d.config.MaxHeaderListSize; max != 0 && totalSize > max {
			return nil, newError(ErrTooLarge, "decoded header list exceeds %d bytes", max)
		}
		headers = append(headers, hf)
	}
	if err := ValidatePseudoHeaders(headers); err != nil {
		return nil, err
	}
	return headers, nil
}

func (d *Decoder) readIndexed(r *Reader, base uint64) (HeaderField, error) {
	static, err := r.ReadBit()
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated indexed field line: %v", err)
	}
	idx, err := r.ReadInt(6)
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated indexed field line: %v", err)
	}
	if static != 0 {
		e, ok := getStatic(idx)
		if !ok {
			return HeaderField{}, newError(ErrInvalidRef, "unknown static index %d", idx)
		}
		return HeaderField{Name: e.name, Value: e.value}, nil
	}
	if idx+1 > base {
		return HeaderField{}, newError(ErrInvalidRef, "relative index %d exceeds base %d", idx, base)
	}
	abs := base - 1 - idx
	e, ok := d.table.entryByIndex(abs)
	if !ok {
		return HeaderField{}, newError(ErrInvalidRef, "unknown dynamic index %d", abs)
	}
	return HeaderField{Name: e.Name, Value: e.Value}, nil
}

func (d *Decoder) readIndexedPostBase(r *Reader, base uint64) (HeaderField, error) {
	idx, err := r.ReadInt(4)
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated post-base indexed field line: %v", err)
	}
	e, ok := d.table.entryByIndex(base + idx)
	if !ok {
		return HeaderField{}, newError(ErrInvalidRef, "unknown post-base dynamic index %d", base+idx)
	}
	return HeaderField{Name: e.Name, Value: e.Value}, nil
}

func (d *Decoder) readLiteralNameRef(r *Reader, base uint64) (HeaderField, error) {
	never, err := r.ReadBit()
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated literal field line: %v", err)
	}
	static, err := r.ReadBit()
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated literal field line: %v", err)
	}
	idx, err := r.ReadInt(4)
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated literal field line: %v", err)
	}
	value, err := r.ReadString(7)
	if err != nil {
		return HeaderField{}, err
	}
	var name string
	if static != 0 {
		e, ok := getStatic(idx)
		if !ok {
			return HeaderField{}, newError(ErrInvalidRef, "unknown static index %d", idx)
		}
		name = e.name
	} else {
		if idx+1 > base {
			return HeaderField{}, newError(ErrInvalidRef, "relative index %d exceeds base %d", idx, base)
		}
		e, ok := d.table.entryByIndex(base - 1 - idx)
		if !ok {
			return HeaderField{}, newError(ErrInvalidRef, "unknown dynamic index")
		}
		name = e.Name
	}
	return HeaderField{Name: name, Value: value, NeverIndexed: never != 0}, nil
}

func (d *Decoder) readLiteralPostBaseNameRef(r *Reader, base uint64) (HeaderField, error) {
	never, err := r.ReadBit()
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated post-base literal field line: %v", err)
	}
	idx, err := r.ReadInt(3)
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated post-base literal field line: %v", err)
	}
	value, err := r.ReadString(7)
	if err != nil {
		return HeaderField{}, err
	}
	e, ok := d.table.entryByIndex(base + idx)
	if !ok {
		return HeaderField{}, newError(ErrInvalidRef, "unknown post-base dynamic index %d", base+idx)
	}
	return HeaderField{Name: e.Name, Value: value, NeverIndexed: never != 0}, nil
}

func (d *Decoder) readLiteralLiteralName(r *Reader) (HeaderField, error) {
	never, err := r.ReadBit()
	if err != nil {
		return HeaderField{}, newError(ErrMalformed, "truncated literal field line: %v", err)
	}
	name, err := r.ReadString(3)
	if err != nil {
		return HeaderField{}, err
	}
	value, err := r.ReadString(7)
	if err != nil {
		return HeaderField{}, err
	}
	return HeaderField{Name: name, Value: value, NeverIndexed: never != 0}, nil
}

// writeAckInstruction writes one tagged acknowledgement instruction: a
// one-byte discriminator followed by value encoded as a QUIC
// variable-length integer (spec.md §4.6).
func (d *Decoder) writeAckInstruction(tag byte, value uint64) error {
	buf, err := varint.Encode([]byte{tag}, value)
	if err != nil {
		return newError(ErrMalformed, "encoding ack instruction: %v", err)
	}
	_, err = d.ackWriter.Write(buf)
	return err
}

// acknowledgeSection writes a Section Acknowledgment instruction for
// streamID to the ack stream. requiredInsert is the block's own Required
// Insert Count: a Section Acknowledgment implicitly tells the encoder
// that every insertion up to requiredInsert has been applied (spec.md
// §4.4's on_section_ack "advances known_received_count to at least the
// removed threshold"), so a later FlushInsertCountIncrement must not
// re-announce that same ground — it would tell the encoder about more
// insertions than actually exist.
func (d *Decoder) acknowledgeSection(streamID, requiredInsert uint64) error {
	if requiredInsert > d.sentInsertCount {
		d.sentInsertCount = requiredInsert
	}
	return d.writeAckInstruction(ackSectionAcknowledgment, streamID)
}

// Cancelled writes a Stream Cancellation instruction for streamID and
// discards any parked block for it, per spec.md §4.5's on_stream_cancel.
func (d *Decoder) Cancelled(streamID uint64) error {
	delete(d.pending, streamID)
	d.tracker.Remove(streamID)
	return d.writeAckInstruction(ackStreamCancellation, streamID)
}

// FlushInsertCountIncrement writes an Insert Count Increment instruction
// covering every insertion applied that has not yet been reported, either
// by an earlier flush or implicitly by a Section Acknowledgment (see
// acknowledgeSection). It is a no-op if there is nothing unreported.
func (d *Decoder) FlushInsertCountIncrement() error {
	delta := d.table.Base() - d.sentInsertCount
	if delta == 0 {
		return nil
	}
	if err := d.writeAckInstruction(ackInsertCountIncrement, delta); err != nil {
		return err
	}
	d.sentInsertCount = d.table.Base()
	return nil
}
