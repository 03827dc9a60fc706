package qpack

// HeaderField is a single name/value header field, as passed to Encoder.Encode
// and produced by Decoder.Decode.
type HeaderField struct {
	Name  string
	Value string

	// NeverIndexed marks a field whose value must never be inserted into a
	// dynamic table nor represented with Huffman-compressed deduplication
	// against prior values, regardless of how the encoder would otherwise
	// choose to represent it (the "never indexed" bit of RFC 9204 §4.5.4).
	NeverIndexed bool
}

func (hf HeaderField) String() string {
	return hf.Name + ": " + hf.Value
}

func (hf HeaderField) size() uint64 {
	return entryOverhead + uint64(len(hf.Name)+len(hf.Value))
}

// ValidatePseudoHeaders checks that pseudo-header fields (those whose name
// starts with ':') appear strictly before all regular header fields, as
// HTTP/3 requires.
func ValidatePseudoHeaders(headers []HeaderField) error {
	seenRegular := false
	for _, h := range headers {
		if len(h.Name) == 0 {
			continue
		}
		if h.Name[0] == ':' {
			if seenRegular {
				return newError(ErrMalformed, "pseudo-header field after a regular header field")
			}
		} else {
			seenRegular = true
		}
	}
	return nil
}
