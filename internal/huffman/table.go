package huffman

import "container/heap"

// code is a single symbol's Huffman representation: the low `len` bits of
// `bits`, most-significant bit first.
type code struct {
	bits uint32
	len  uint8
}

// table holds one entry per possible byte value, built once at package
// init time by canonicalHuffman from headerByteWeight.
var table [256]code

// headerByteWeight models the relative frequency of byte values inside
// typical HTTP header names and values: lowercase letters, digits, and the
// handful of punctuation marks that dominate header syntax (":", "/",
// "-", ".", etc.) are weighted heavily; uppercase letters, rarer
// punctuation, and control/high bytes are weighted lightly. Only the
// relative ORDER of weights affects the resulting code lengths, not their
// absolute values.
var headerByteWeight = buildHeaderByteWeight()

func buildHeaderByteWeight() [256]int {
	var w [256]int
	for i := range w {
		w[i] = 1 // control characters and high bytes: rare
	}
	for c := 'a'; c <= 'z'; c++ {
		w[c] = 60
	}
	for c := '0'; c <= '9'; c++ {
		w[c] = 28
	}
	for c := 'A'; c <= 'Z'; c++ {
		w[c] = 10
	}
	for _, c := range []byte(" -:/.,_=") {
		w[c] = 45
	}
	for _, c := range []byte(";?&%+") {
		w[c] = 12
	}
	for _, c := range []byte("\"'()<>[]{}!@#$^*|~`\\") {
		w[c] = 4
	}
	return w
}

// treeNode is an internal node (sym == -1) or leaf (sym == the byte value)
// of the Huffman tree built from headerByteWeight.
type treeNode struct {
	weight      int
	sym         int
	left, right *treeNode
}

type nodeHeap []*treeNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].sym < h[j].sym
}
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(*treeNode)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// buildLengths runs the standard Huffman construction (repeatedly merge the
// two lightest nodes) over the 256 byte symbols and returns the resulting
// code length for each.
func buildLengths(weight [256]int) [256]uint8 {
	h := make(nodeHeap, 256)
	for sym := range weight {
		h[sym] = &treeNode{weight: weight[sym], sym: sym}
	}
	heap.Init(&h)
	for h.Len() > 1 {
		a := heap.Pop(&h).(*treeNode)
		b := heap.Pop(&h).(*treeNode)
		heap.Push(&h, &treeNode{weight: a.weight + b.weight, sym: -1, left: a, right: b})
	}
	root := h[0]

	var lengths [256]uint8
	var walk func(n *treeNode, depth uint8)
	walk = func(n *treeNode, depth uint8) {
		if n.sym >= 0 {
			if depth == 0 {
				depth = 1 // the degenerate one-symbol tree still needs a real code
			}
			lengths[n.sym] = depth
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(root, 0)
	return lengths
}

// canonicalize assigns canonical Huffman codes from a code-length table:
// symbols are ordered by (length, symbol value) and codes are handed out
// in that order, incrementing and left-shifting on each length increase.
// This is the standard construction RFC 7541 Appendix B itself uses, and
// guarantees a complete, prefix-free, uniquely decodable code regardless
// of the specific length values fed in.
func canonicalize(lengths [256]uint8) [256]code {
	order := make([]int, 256)
	for i := range order {
		order[i] = i
	}
	// Stable insertion sort by (length, symbol) is plenty for 256 items
	// and keeps this independent of sort.Slice's comparator allocation.
	for i := 1; i < len(order); i++ {
		j := i
		for j > 0 && lengths[order[j-1]] > lengths[order[j]] {
			order[j-1], order[j] = order[j], order[j-1]
			j--
		}
	}

	var result [256]code
	var nextCode uint32
	var curLen uint8
	for _, sym := range order {
		l := lengths[sym]
		if curLen == 0 {
			curLen = l
		} else if l > curLen {
			nextCode <<= (l - curLen)
			curLen = l
		}
		result[sym] = code{bits: nextCode, len: l}
		nextCode++
	}
	return result
}

func init() {
	lengths := buildLengths(headerByteWeight)
	table = canonicalize(lengths)
	root = buildTree(table)
}
