package qpack

import (
	"errors"
	"fmt"
)

// Error kinds, matching the taxonomy the wire format needs to distinguish
// (a peer reacting to a MALFORMED header block tears down the connection
// differently than one reacting to TOO_LARGE). Each is a sentinel: wrap it
// with fmt.Errorf("%w: detail", ErrKind) at the point of detection so
// errors.Is(err, ErrKind) keeps working while the message carries specifics.
var (
	// ErrMalformed indicates the wire encoding itself is ill-formed:
	// a bad instruction opcode, an integer that overflows, a Huffman string
	// with invalid padding, a base-delta sign/value combination that can
	// never be emitted by a conforming encoder.
	ErrMalformed = errors.New("malformed qpack encoding")

	// ErrInvalidRef indicates a header block or instruction referenced an
	// index that doesn't exist: past the end of the static table, an
	// absolute or relative index with no matching dynamic table entry, or
	// a post-base index that doesn't resolve against the block's base.
	ErrInvalidRef = errors.New("invalid qpack table reference")

	// ErrInvalidTableSize indicates a table capacity update would violate
	// the negotiated maximum dynamic table capacity.
	ErrInvalidTableSize = errors.New("invalid qpack dynamic table size")

	// ErrTooLarge indicates a header list exceeded a configured size bound
	// (max_header_list_size, or an individual field too large to ever fit
	// the table).
	ErrTooLarge = errors.New("qpack header list too large")

	// ErrTableFull indicates an insertion cannot proceed because the
	// dynamic table has no room even after evicting everything evictable.
	ErrTableFull = errors.New("qpack dynamic table full")
)

func newError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}
