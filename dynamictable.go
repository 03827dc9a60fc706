package qpack

// DynamicEntry is one inserted row of the dynamic table. Index is its
// absolute insertion index: the first entry ever inserted is 0, the next
// is 1, and so on, forever increasing and never reused even after the
// entry storing it is evicted (spec.md §3).
type DynamicEntry struct {
	Name  string
	Value string
	Index uint64
}

func (e *DynamicEntry) size() uint64 {
	return entryOverhead + uint64(len(e.Name)+len(e.Value))
}

// EvictionCheck is consulted before a dynamic table entry is evicted to
// make room for a new insertion. It returns false to block the eviction,
// in which case the insertion that needed the room fails.
type EvictionCheck func(e *DynamicEntry) bool

// allowAllEvictions is the decoder's eviction policy: the decoder only
// ever evicts what the encoder has already told it to evict (it has no
// independent capacity pressure of its own), so it never needs to refuse.
func allowAllEvictions(*DynamicEntry) bool { return true }

// DynamicTable is the insertion-ordered table of dynamic entries shared
// in shape by the encoder and decoder sides (spec.md §3-4.3). It is not
// safe for concurrent use: spec.md §5 gives each end exclusive ownership
// of its own table, so there is no locking here, unlike the teacher's
// QpackDecoderTable (whose sync.RWMutex existed to let a blocked-stream
// goroutine wait on sync.Cond — this spec's single-threaded cooperative
// model has no such goroutine to synchronize with).
//
// Entries are kept in a slice ordered oldest-first; name and name+value
// indices are maintained alongside it so lookups don't need a linear scan
// once the table grows large (spec.md §9 calls this out as an explicit
// design option).
type DynamicTable struct {
	entries  []*DynamicEntry // oldest first
	base     uint64          // number of entries ever inserted
	used     uint64          // total size of entries currently held
	capacity uint64

	// referenceableLimit bounds how much of the table's capacity the
	// encoder will actually draw new references from; entries that spill
	// into the reserved margin are never referenced, so the decoder has
	// headroom to catch up before the encoder could be blocked waiting
	// on an eviction. Zero (the decoder's setting) disables the margin:
	// every entry still present is referenceable.
	referenceableLimit uint64
	referenceableCount int // newest N entries currently within the margin
	referenceableSize  uint64

	byNameValue map[string]uint64 // "name\x00value" -> absolute index (most recent wins)
	byName      map[string]uint64 // name -> absolute index (most recent wins)
}

// NewDynamicTable creates a table with the given capacity and, for
// encoder use, a reserved margin that entries beyond referenceableLimit
// fall into. Decoders should pass margin 0.
func NewDynamicTable(capacity, margin uint64) *DynamicTable {
	limit := capacity
	if margin < capacity {
		limit = capacity - margin
	} else {
		limit = 0
	}
	return &DynamicTable{
		capacity:           capacity,
		referenceableLimit: limit,
		byNameValue:        make(map[string]uint64),
		byName:             make(map[string]uint64),
	}
}

// Capacity returns the table's configured maximum size.
func (t *DynamicTable) Capacity() uint64 { return t.capacity }

// Used returns the total accounted size of entries currently held.
func (t *DynamicTable) Used() uint64 { return t.used }

// Base returns the number of entries ever inserted (the "insert count").
func (t *DynamicTable) Base() uint64 { return t.base }

// SetCapacity changes the table's capacity, evicting entries as needed to
// fit within it. It returns ErrInvalidTableSize if max is nonzero and the
// new capacity would exceed it, and ErrTableFull if shrinking would
// require evicting an entry that evict forbids.
func (t *DynamicTable) SetCapacity(capacity uint64, max uint64, evict EvictionCheck) error {
	if max != 0 && capacity > max {
		return newError(ErrInvalidTableSize, "capacity %d exceeds maximum %d", capacity, max)
	}
	if evict == nil {
		evict = allowAllEvictions
	}
	margin := uint64(0)
	if t.capacity > t.referenceableLimit {
		margin = t.capacity - t.referenceableLimit
	}
	for t.used > capacity {
		if !t.evictOldest(evict) {
			return newError(ErrTableFull, "cannot shrink capacity to %d without evicting a referenced entry", capacity)
		}
	}
	t.capacity = capacity
	if margin < capacity {
		t.referenceableLimit = capacity - margin
	} else {
		t.referenceableLimit = 0
	}
	t.recomputeReferenceable()
	return nil
}

func (t *DynamicTable) evictOldest(evict EvictionCheck) bool {
	if len(t.entries) == 0 {
		return false
	}
	oldest := t.entries[0]
	if !evict(oldest) {
		return false
	}
	t.entries = t.entries[1:]
	t.used -= oldest.size()
	if t.byNameValue[nameValueKey(oldest.Name, oldest.Value)] == oldest.Index {
		delete(t.byNameValue, nameValueKey(oldest.Name, oldest.Value))
	}
	if t.byName[oldest.Name] == oldest.Index {
		delete(t.byName, oldest.Name)
	}
	t.recomputeReferenceable()
	return true
}

// recomputeReferenceable walks the newest entries backward, counting how
// many fit within referenceableLimit. This mirrors the teacher's
// QpackEncoderTable.added/removed bookkeeping but is recomputed directly
// from the entry list rather than incrementally patched, which is simpler
// to keep correct across both insertion and eviction.
func (t *DynamicTable) recomputeReferenceable() {
	var size uint64
	count := 0
	for i := len(t.entries) - 1; i >= 0; i-- {
		s := t.entries[i].size()
		if size+s > t.referenceableLimit {
			break
		}
		size += s
		count++
	}
	t.referenceableCount = count
	t.referenceableSize = size
}

// Insert adds a new entry, evicting the oldest entries (subject to evict)
// until there is room. It returns the new entry, or an error if there
// isn't (or can't be made) enough room.
func (t *DynamicTable) Insert(name, value string, evict EvictionCheck) (*DynamicEntry, error) {
	if evict == nil {
		evict = allowAllEvictions
	}
	entry := &DynamicEntry{Name: name, Value: value, Index: t.base}
	size := entry.size()
	if size > t.capacity {
		return nil, newError(ErrTooLarge, "entry of size %d exceeds table capacity %d", size, t.capacity)
	}
	for t.used+size > t.capacity {
		if !t.evictOldest(evict) {
			return nil, newError(ErrTableFull, "cannot evict room for a %d byte entry", size)
		}
	}
	t.entries = append(t.entries, entry)
	t.used += size
	t.base++
	t.byNameValue[nameValueKey(name, value)] = entry.Index
	t.byName[name] = entry.Index
	t.recomputeReferenceable()
	return entry, nil
}

// entryByIndex returns the entry with the given absolute insertion index,
// if it hasn't been evicted.
func (t *DynamicTable) entryByIndex(idx uint64) (*DynamicEntry, bool) {
	if idx >= t.base {
		return nil, false
	}
	oldestIndex := t.base - uint64(len(t.entries))
	if idx < oldestIndex {
		return nil, false
	}
	return t.entries[idx-oldestIndex], true
}

// Duplicate re-inserts the entry at idx as a new entry at the current
// base, per the Duplicate instruction (spec.md §4.3): this lets an
// encoder keep a frequently used value alive without re-sending its
// bytes.
func (t *DynamicTable) Duplicate(idx uint64, evict EvictionCheck) (*DynamicEntry, error) {
	e, ok := t.entryByIndex(idx)
	if !ok {
		return nil, newError(ErrInvalidRef, "duplicate of unknown index %d", idx)
	}
	return t.Insert(e.Name, e.Value, evict)
}

// LookupReferenceable looks for a matching name and name+value among the
// entries the encoder is currently willing to hand out new references to
// (i.e. excluding anything fallen into the reserved margin).
func (t *DynamicTable) LookupReferenceable(name, value string) (nameValueIdx, nameIdx uint64, haveNameValue, haveName bool) {
	referenceableFloor := t.base - uint64(t.referenceableCount)
	if idx, ok := t.byNameValue[nameValueKey(name, value)]; ok && idx >= referenceableFloor {
		nameValueIdx, haveNameValue = idx, true
	}
	if idx, ok := t.byName[name]; ok && idx >= referenceableFloor {
		nameIdx, haveName = idx, true
	}
	return
}

// Lookup looks for a matching name and name+value anywhere still present
// in the table, including entries in the reserved margin. The encoder's
// own representation choice uses LookupReferenceable instead.
func (t *DynamicTable) Lookup(name, value string) (nameValueIdx, nameIdx uint64, haveNameValue, haveName bool) {
	if idx, ok := t.byNameValue[nameValueKey(name, value)]; ok {
		nameValueIdx, haveNameValue = idx, true
	}
	if idx, ok := t.byName[name]; ok {
		nameIdx, haveName = idx, true
	}
	return
}

func nameValueKey(name, value string) string {
	return name + "\x00" + value
}
