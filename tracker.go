package qpack

// streamUse records that a stream's header block referenced dynamic table
// entries up to (and including) some insertion count, and so cannot be
// considered fully acknowledged until the encoder has seen at least that
// many insertions acknowledged back. Grounded on the teacher's
// qpackHeaderBlockUsage, generalized from a per-entry usage count to the
// single "largest index referenced" spec.md §3/§9 actually needs to track
// (an unacked block only needs to pin the newest entry it used — older
// referenced entries in the same block are automatically covered, since
// nothing evicts out of order).
type streamUse struct {
	streamID    uint64
	insertCount uint64
}

// StreamTracker keeps the set of streams with outstanding (unacknowledged
// or blocked) state, ordered by the insertion count each is waiting on,
// so that "has the table caught up enough to unblock anyone" and "can we
// safely evict past this point" are both cheap range queries instead of
// full scans. Grounded on the teacher's qpackUsageTracker (per-stream
// acknowledgement bookkeeping) and the Python original's blocking_streams
// linked list (popMany), generalized to one sorted-by-threshold
// container both the encoder's unacked-entry tracking and the decoder's
// blocked-stream tracking can reuse. spec.md §9 leaves the concrete data
// structure open (sorted list vs. BST/skiplist at scale); a sorted slice
// is simplest-correct for this spec's target scale, so that's what's
// used here rather than a self-balancing tree.
type StreamTracker struct {
	entries []streamUse // sorted ascending by insertCount
}

// NewStreamTracker returns an empty tracker.
func NewStreamTracker() *StreamTracker {
	return &StreamTracker{}
}

// Insert records that streamID is waiting on insertCount. If the stream
// is already tracked, its threshold is raised to the larger of the two
// (a stream's later header block always depends on at least as much
// table state as its earlier ones).
func (s *StreamTracker) Insert(streamID, insertCount uint64) {
	for i := range s.entries {
		if s.entries[i].streamID == streamID {
			if insertCount > s.entries[i].insertCount {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
			return
		}
	}
	pos := 0
	for pos < len(s.entries) && s.entries[pos].insertCount <= insertCount {
		pos++
	}
	s.entries = append(s.entries, streamUse{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = streamUse{streamID: streamID, insertCount: insertCount}
}

// Remove drops streamID from the tracker entirely, used when a stream is
// reset or cancelled (spec.md §4.5's on_stream_cancel).
func (s *StreamTracker) Remove(streamID uint64) {
	for i := range s.entries {
		if s.entries[i].streamID == streamID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// PopReady removes and returns every entry whose threshold is at or below
// acked, in ascending threshold order. Used by the decoder to find which
// blocked streams can resume after new table insertions arrive, and by
// the encoder to find which streams are now fully acknowledged after an
// Insert Count Increment.
func (s *StreamTracker) PopReady(acked uint64) []uint64 {
	n := 0
	for n < len(s.entries) && s.entries[n].insertCount <= acked {
		n++
	}
	if n == 0 {
		return nil
	}
	ready := make([]uint64, n)
	for i := 0; i < n; i++ {
		ready[i] = s.entries[i].streamID
	}
	s.entries = s.entries[n:]
	return ready
}

// MaxPending returns the largest outstanding threshold and true, or
// (0, false) if nothing is tracked. An entry is safe to evict only once
// its index is at or past this value: any outstanding (not yet popped by
// PopReady) stream with a smaller threshold is, by definition, satisfied
// by whatever entries survive past this boundary too, so the boundary
// that protects every outstanding stream at once is the largest of them.
func (s *StreamTracker) MaxPending() (uint64, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[len(s.entries)-1].insertCount, true
}

// Len reports how many streams are currently tracked.
func (s *StreamTracker) Len() int { return len(s.entries) }

// ThresholdFor returns the tracked threshold for streamID without
// removing it, or (0, false) if the stream isn't tracked.
func (s *StreamTracker) ThresholdFor(streamID uint64) (uint64, bool) {
	for _, e := range s.entries {
		if e.streamID == streamID {
			return e.insertCount, true
		}
	}
	return 0, false
}
