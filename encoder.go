package qpack

import (
	"bytes"
	"io"

	"github.com/qpackio/qpack/varint"
)

// writerState tracks the bookkeeping needed to produce one header block:
// which entries it inserted along the way (so eviction can't touch them
// before the block referencing them has even been returned to the
// caller), and one more than the largest absolute dynamic index the block
// ends up referencing at all (its Required Insert Count, and — per this
// encoder's base choice below — also its Base). Grounded on the teacher's
// qpackWriterState (hc/qpackencoder.go), narrowed to what this
// implementation's single per-block pass needs.
type writerState struct {
	requiredInsert    uint64
	insertedThisBlock map[uint64]bool
}

func (ws *writerState) noteReference(idx uint64) {
	if idx+1 > ws.requiredInsert {
		ws.requiredInsert = idx + 1
	}
}

// Encoder turns header lists into QPACK-encoded header blocks, writing
// dynamic table mutations to a separate instruction stream as it goes.
// Grounded on hc/qpackencoder.go's QpackEncoder/writeTableChanges/
// writeHeaderBlock split between two output streams, the "two parallel
// byte streams" design spec.md §9 singles out as the usual source of
// ordering bugs: table mutations for a block are always written to
// updatesWriter and committed to the table before that block's header
// bytes are produced, exactly as WriteHeaderBlock sequences the two.
type Encoder struct {
	logged
	table         *DynamicTable
	config        Config
	updatesWriter *Writer
	huffman       HuffmanChoice
	indexPrefs    map[string]bool

	tracker          *StreamTracker
	ackedInsertCount uint64
	blockedStreams   map[uint64]bool
}

// NewEncoder creates an encoder that writes dynamic table mutation
// instructions to tableUpdates as they're decided. margin reserves a
// portion of the table's capacity that the encoder will never draw new
// references from (hc/qpackencoder.go's NewQpackEncoder(hw, capacity,
// margin)): entries that age past that point are left alone rather than
// referenced, giving the decoder headroom to keep up before an eviction
// could ever be blocked on an unacknowledged reference.
func NewEncoder(tableUpdates io.Writer, cfg Config, margin uint64) *Encoder {
	e := &Encoder{
		table:          NewDynamicTable(cfg.MaxTableCapacity, margin),
		config:         cfg,
		updatesWriter:  NewWriter(tableUpdates),
		huffman:        HuffmanAuto,
		tracker:        NewStreamTracker(),
		blockedStreams: make(map[uint64]bool),
	}
	e.initLogging()
	return e
}

// SetIndexPreference overrides whether fields with the given name are
// ever inserted into the dynamic table, regardless of shouldIndex's
// default. Grounded on hc/codec.go's encoderCommon.SetIndexPreference.
func (e *Encoder) SetIndexPreference(name string, index bool) {
	if e.indexPrefs == nil {
		e.indexPrefs = make(map[string]bool)
	}
	e.indexPrefs[name] = index
}

// dontIndexByDefault mirrors hc/codec.go's shouldIndex table: header
// names whose values are typically unique per-request and so not worth
// the table slot they'd consume.
var dontIndexByDefault = map[string]bool{
	":path":               true,
	"content-length":      true,
	"content-range":       true,
	"date":                true,
	"etag":                true,
	"if-modified-since":   true,
	"if-none-match":       true,
	"if-range":            true,
	"if-unmodified-since": true,
	"last-modified":       true,
	"link":                true,
	"range":               true,
	"referer":             true,
}

func (e *Encoder) shouldIndex(h HeaderField) bool {
	if h.NeverIndexed {
		return false
	}
	if pref, ok := e.indexPrefs[h.Name]; ok {
		return pref
	}
	if dontIndexByDefault[h.Name] {
		return false
	}
	return h.size() <= e.table.Capacity()
}

// evictionGuard refuses to evict any entry still within the range some
// outstanding (unacknowledged) stream might reference — Open Question #2
// in SPEC_FULL.md §E: the entries this very block is about to insert are
// protected the same way, via insertedThisBlock, even before the header
// block referencing them has been handed back to the caller.
func (e *Encoder) evictionGuard(ws *writerState) EvictionCheck {
	return func(entry *DynamicEntry) bool {
		if ws != nil && ws.insertedThisBlock[entry.Index] {
			return false
		}
		if maxPending, ok := e.tracker.MaxPending(); ok && entry.Index < maxPending {
			e.logger.Debugw("refusing eviction of entry referenced by unacked stream",
				"entry_index", entry.Index, "max_pending_insert_count", maxPending)
			return false
		}
		return true
	}
}

// Representation kinds. 5 and 6 are resolved away before the block is
// written: chooseRepresentation can only know a dynamic entry's absolute
// index, not its relative-to-base one, since the block's base isn't
// final until every header has been considered (see resolveDynamicRefs).
const (
	repIndexed                = 0
	repIndexedPostBase        = 1
	repLiteralNameRef         = 2
	repLiteralPostBaseNameRef = 3
	repLiteralLiteral         = 4
	repPendingIndexed         = 5
	repPendingLiteralNameRef  = 6
)

type representation struct {
	h      HeaderField
	kind   int
	idx    uint64
	static bool
	value  string
}

// Encode produces the header block for one stream's header list, writing
// any new dynamic table entries it decides to use to the table updates
// stream first.
func (e *Encoder) Encode(streamID uint64, headers []HeaderField) ([]byte, error) {
	if err := ValidatePseudoHeaders(headers); err != nil {
		return nil, err
	}

	ws := &writerState{
		insertedThisBlock: make(map[uint64]bool),
	}
	canBlock := e.blockedStreams[streamID] || len(e.blockedStreams) < int(e.config.MaxBlockedStreams)

	reps := make([]representation, 0, len(headers))
	for _, h := range headers {
		rep, err := e.chooseRepresentation(h, ws, canBlock)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}

	// This block's base is always its Required Insert Count: every
	// dynamic reference chosen above is, by construction, to an entry
	// with absolute index < ws.requiredInsert (that's what noteReference
	// tracks), so resolving against that base always lands pre-base and
	// the prefix never needs the signed delta form (spec.md §8's
	// insert-then-reference scenario: base == largest_reference).
	resolveDynamicRefs(reps, ws.requiredInsert)

	if ws.requiredInsert > 0 {
		if _, already := e.blockedStreams[streamID]; !already && ws.requiredInsert > e.ackedInsertCount {
			e.blockedStreams[streamID] = true
			e.logger.Infow("stream may block decoder",
				"stream_id", streamID,
				"required_insert_count", ws.requiredInsert,
				"acked_insert_count", e.ackedInsertCount)
		}
		e.tracker.Insert(streamID, ws.requiredInsert)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := e.writeBlockPrefix(w, ws.requiredInsert); err != nil {
		return nil, err
	}
	for _, rep := range reps {
		if err := e.writeRepresentation(w, rep); err != nil {
			return nil, err
		}
	}
	if err := w.Pad(0xff); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// chooseRepresentation picks the smallest representation available for
// h, preferring an exact dynamic match, then a dynamic name match (newly
// indexed if the header is worth indexing), then static table matches,
// then falling back to a fully literal field line. canBlock reports
// whether this stream is already allowed to push the decoder's blocked
// count further (either it's already counted as blocked, or there's
// still room under max_blocked_streams); when false, any reference to an
// entry the decoder may not have applied yet is skipped in favor of a
// literal.
func (e *Encoder) chooseRepresentation(h HeaderField, ws *writerState, canBlock bool) (representation, error) {
	referenceable := func(idx uint64) bool {
		return canBlock || idx < e.ackedInsertCount
	}

	if nvIdx, nameIdx, haveNV, haveName := e.table.LookupReferenceable(h.Name, h.Value); haveNV && !h.NeverIndexed && referenceable(nvIdx) {
		ws.noteReference(nvIdx)
		return representation{h: h, kind: repPendingIndexed, idx: nvIdx}, nil
	} else if haveName && referenceable(nameIdx) {
		if entry := e.tryInsert(h, nameIdx, false, ws, canBlock); entry != nil {
			ws.noteReference(entry.Index)
			return representation{h: h, kind: repPendingIndexed, idx: entry.Index}, nil
		}
		ws.noteReference(nameIdx)
		return representation{h: h, kind: repPendingLiteralNameRef, idx: nameIdx, value: h.Value}, nil
	}

	if svIdx, snIdx := findStatic(h.Name, h.Value); svIdx >= 0 && !h.NeverIndexed {
		return representation{h: h, kind: repIndexed, idx: uint64(svIdx), static: true}, nil
	} else if snIdx >= 0 {
		if entry := e.tryInsert(h, uint64(snIdx), true, ws, canBlock); entry != nil {
			ws.noteReference(entry.Index)
			return representation{h: h, kind: repPendingIndexed, idx: entry.Index}, nil
		}
		return representation{h: h, kind: repLiteralNameRef, idx: uint64(snIdx), static: true, value: h.Value}, nil
	}

	if entry := e.tryInsertLiteral(h, ws, canBlock); entry != nil {
		ws.noteReference(entry.Index)
		return representation{h: h, kind: repPendingIndexed, idx: entry.Index}, nil
	}
	return representation{h: h, kind: repLiteralLiteral, value: h.Value}, nil
}

// resolveDynamicRefs converts the pending dynamic representations
// chooseRepresentation produced (tagged with their absolute dynamic
// index) into their final form once the block's base is known. Every
// absolute index here was tracked via writerState.noteReference, which
// by definition never lets requiredInsert fall below idx+1, so idx < base
// always holds and the result is always the pre-base kind.
func resolveDynamicRefs(reps []representation, base uint64) {
	for i := range reps {
		switch reps[i].kind {
		case repPendingIndexed:
			reps[i].kind = repIndexed
			reps[i].idx = base - 1 - reps[i].idx
		case repPendingLiteralNameRef:
			reps[i].kind = repLiteralNameRef
			reps[i].idx = base - 1 - reps[i].idx
		}
	}
}

// tryInsert inserts h using an existing name at nameIdxAbs (static or
// dynamic) as the instruction's name reference, if h is worth indexing
// and the caller may create new blocking state. It returns the new entry
// on success, or nil if indexing was skipped for any reason (not worth
// it, table full, or blocking budget exhausted).
func (e *Encoder) tryInsert(h HeaderField, nameIdxAbs uint64, static bool, ws *writerState, canBlock bool) *DynamicEntry {
	if h.NeverIndexed || !e.shouldIndex(h) || !canBlock {
		return nil
	}
	baseAtInsert := e.table.Base()
	entry, err := e.table.Insert(h.Name, h.Value, e.evictionGuard(ws))
	if err != nil {
		return nil
	}
	relative := nameIdxAbs
	if !static {
		relative = baseAtInsert - 1 - nameIdxAbs
	}
	if err := e.writeInsertNameRef(relative, static, h.Value); err != nil {
		return nil
	}
	ws.insertedThisBlock[entry.Index] = true
	return entry
}

func (e *Encoder) tryInsertLiteral(h HeaderField, ws *writerState, canBlock bool) *DynamicEntry {
	if h.NeverIndexed || !e.shouldIndex(h) || !canBlock {
		return nil
	}
	entry, err := e.table.Insert(h.Name, h.Value, e.evictionGuard(ws))
	if err != nil {
		return nil
	}
	if err := e.writeInsertLiteralName(h.Name, h.Value); err != nil {
		return nil
	}
	ws.insertedThisBlock[entry.Index] = true
	return entry
}

func (e *Encoder) writeRepresentation(w *Writer, rep representation) error {
	switch rep.kind {
	case 0: // Indexed Field Line
		if err := w.WriteBit(1); err != nil {
			return err
		}
		if err := w.WriteBit(boolBit(rep.static)); err != nil {
			return err
		}
		return w.WriteInt(rep.idx, 6)
	case 1: // Indexed Field Line With Post-Base Index
		if err := w.WriteBits(0x0, 4); err != nil { // 0000
			return err
		}
		return w.WriteInt(rep.idx, 4)
	case 2: // Literal Field Line With Name Reference
		if err := w.WriteBits(0x1, 2); err != nil { // 01
			return err
		}
		if err := w.WriteBit(boolBit(rep.h.NeverIndexed)); err != nil {
			return err
		}
		if err := w.WriteBit(boolBit(rep.static)); err != nil {
			return err
		}
		if err := w.WriteInt(rep.idx, 4); err != nil {
			return err
		}
		return w.WriteString(rep.value, 7, e.huffman)
	case 3: // Literal Field Line With Post-Base Name Reference
		if err := w.WriteBits(0x1, 4); err != nil { // 0001
			return err
		}
		if err := w.WriteBit(boolBit(rep.h.NeverIndexed)); err != nil {
			return err
		}
		if err := w.WriteInt(rep.idx, 3); err != nil {
			return err
		}
		return w.WriteString(rep.value, 7, e.huffman)
	default: // Literal Field Line With Literal Name
		if err := w.WriteBits(0x1, 3); err != nil { // 001
			return err
		}
		if err := w.WriteBit(boolBit(rep.h.NeverIndexed)); err != nil {
			return err
		}
		if err := w.WriteString(rep.h.Name, 3, e.huffman); err != nil {
			return err
		}
		return w.WriteString(rep.value, 7, e.huffman)
	}
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// writeBlockPrefix writes the Required Insert Count followed by the
// sign/Base Delta pair. This encoder always picks base == requiredInsert
// (see Encode's call to resolveDynamicRefs), so the signed form is never
// needed: the prefix is always the unsigned zero delta.
func (e *Encoder) writeBlockPrefix(w *Writer, requiredInsert uint64) error {
	if err := w.WriteInt(requiredInsert, 8); err != nil {
		return err
	}
	if err := w.WriteBit(0); err != nil {
		return err
	}
	return w.WriteInt(0, 7)
}

// writeInsertNameRef writes an Insert With Name Reference instruction.
// relativeOrStaticIdx is already in the right address space: the static
// table's absolute index if static, or the dynamic table's
// relative-to-current-insert-count index otherwise.
func (e *Encoder) writeInsertNameRef(relativeOrStaticIdx uint64, static bool, value string) error {
	if err := e.updatesWriter.WriteBit(1); err != nil {
		return err
	}
	if err := e.updatesWriter.WriteBit(boolBit(static)); err != nil {
		return err
	}
	if err := e.updatesWriter.WriteInt(relativeOrStaticIdx, 6); err != nil {
		return err
	}
	return e.updatesWriter.WriteString(value, 7, e.huffman)
}

func (e *Encoder) writeInsertLiteralName(name, value string) error {
	if err := e.updatesWriter.WriteBits(0x1, 2); err != nil { // 01
		return err
	}
	if err := e.updatesWriter.WriteString(name, 5, e.huffman); err != nil {
		return err
	}
	return e.updatesWriter.WriteString(value, 7, e.huffman)
}

// Duplicate writes a Duplicate instruction re-inserting the entry at
// absolute index idx, without referencing it from any header block.
func (e *Encoder) Duplicate(idx uint64) error {
	relative := e.table.Base() - 1 - idx
	if _, err := e.table.Duplicate(idx, e.evictionGuard(nil)); err != nil {
		return err
	}
	if err := e.updatesWriter.WriteBits(0, 3); err != nil { // 000
		return err
	}
	return e.updatesWriter.WriteInt(relative, 5)
}

// SetCapacity writes a Set Dynamic Table Capacity instruction and applies
// it to the local table.
func (e *Encoder) SetCapacity(capacity uint64) error {
	if err := e.table.SetCapacity(capacity, e.config.MaxTableCapacity, e.evictionGuard(nil)); err != nil {
		return err
	}
	e.logger.Infow("dynamic table capacity changed", "capacity", capacity)
	if err := e.updatesWriter.WriteBits(0x1, 3); err != nil { // 001
		return err
	}
	return e.updatesWriter.WriteInt(capacity, 5)
}

// AcknowledgeSection processes a Section Acknowledgment from the decoder:
// the header block sent for streamID has been fully processed, so its
// entries are no longer pinned against eviction, and the encoder now
// knows the decoder has at least that many insertions applied.
func (e *Encoder) AcknowledgeSection(streamID uint64) error {
	delete(e.blockedStreams, streamID)
	if ric, ok := e.tracker.ThresholdFor(streamID); ok {
		e.tracker.Remove(streamID)
		if ric > e.ackedInsertCount {
			e.ackedInsertCount = ric
		}
	}
	return nil
}

// AcknowledgeInsertCountIncrement processes an Insert Count Increment
// from the decoder, advancing the known-received watermark and releasing
// any now-caught-up streams from blocked/eviction-pinned status.
func (e *Encoder) AcknowledgeInsertCountIncrement(increment uint64) error {
	if increment == 0 {
		return newError(ErrMalformed, "zero insert count increment")
	}
	e.ackedInsertCount += increment
	if e.ackedInsertCount > e.table.Base() {
		return newError(ErrMalformed, "insert count increment exceeds total insertions")
	}
	for _, id := range e.tracker.PopReady(e.ackedInsertCount) {
		delete(e.blockedStreams, id)
	}
	return nil
}

// ProcessAcks parses a run of tagged acknowledgement instructions
// (Section Acknowledgment, Stream Cancellation, Insert Count Increment)
// as written by Decoder.acknowledgeSection/Cancelled/
// FlushInsertCountIncrement — a one-byte tag followed by a QUIC
// variable-length integer payload (spec.md §4.6) — and dispatches each to
// the matching Acknowledge* method, in order.
func (e *Encoder) ProcessAcks(data []byte) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return newError(ErrMalformed, "truncated ack instruction: %v", err)
		}
		value, _, err := varint.Decode(r)
		if err != nil {
			return newError(ErrMalformed, "truncated ack instruction payload: %v", err)
		}
		switch tag {
		case ackSectionAcknowledgment:
			if err := e.AcknowledgeSection(value); err != nil {
				return err
			}
		case ackStreamCancellation:
			if err := e.AcknowledgeStreamCancellation(value); err != nil {
				return err
			}
		case ackInsertCountIncrement:
			if err := e.AcknowledgeInsertCountIncrement(value); err != nil {
				return err
			}
		default:
			return newError(ErrMalformed, "unknown ack instruction tag %#x", tag)
		}
	}
	return nil
}

// AcknowledgeStreamCancellation processes a Stream Cancellation: the
// stream was reset before (or instead of) being fully processed, so its
// reservations are dropped without advancing the known-received
// watermark.
func (e *Encoder) AcknowledgeStreamCancellation(streamID uint64) error {
	e.tracker.Remove(streamID)
	delete(e.blockedStreams, streamID)
	return nil
}
