package qpack

// entryOverhead is the per-entry accounting overhead RFC 9204 §3.2.1
// mandates: each dynamic table entry consumes name+value bytes plus 32,
// so that the table's size accounting reflects realistic per-entry cost
// regardless of how short name and value are.
const entryOverhead = 32

// Config holds the negotiated QPACK settings for one connection: the two
// values carried in SETTINGS frames (RFC 9204 §5) plus the header-list
// size bound this implementation layers on top for safety. It is
// YAML-decodable so a peer's settings (or a test fixture) can be loaded
// directly into a Config instead of threading bare integers through
// constructors.
type Config struct {
	// MaxTableCapacity is this peer's SETTINGS_QPACK_MAX_TABLE_CAPACITY:
	// the largest dynamic table size it is willing to maintain.
	MaxTableCapacity uint64 `yaml:"max_table_capacity"`

	// MaxBlockedStreams is this peer's SETTINGS_QPACK_BLOCKED_STREAMS: the
	// largest number of streams it will allow to be blocked waiting on
	// table insertions at once.
	MaxBlockedStreams uint64 `yaml:"max_blocked_streams"`

	// MaxHeaderListSize bounds the total size (by the same per-field
	// accounting as table entries) of a decoded header list. Zero means
	// unbounded.
	MaxHeaderListSize uint64 `yaml:"max_header_list_size"`
}

// DefaultConfig returns the settings this implementation uses absent any
// negotiation: a modest table capacity, a small blocked-stream allowance,
// and no header-list size bound.
func DefaultConfig() Config {
	return Config{
		MaxTableCapacity:  4096,
		MaxBlockedStreams: 16,
		MaxHeaderListSize: 0,
	}
}
