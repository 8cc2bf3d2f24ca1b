package chain

import "fmt"

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// Empty reports whether the range contains no blocks.
func (r BlockRange) Empty() bool {
	return r.To < r.From
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return r.To - r.From + 1
}

// Cap returns the range truncated to at most max blocks. A zero max leaves it unchanged.
func (r BlockRange) Cap(max uint64) BlockRange {
	if max == 0 || r.Empty() || r.Len() <= max {
		return r
	}
	return BlockRange{From: r.From, To: r.From + max - 1}
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}
