// Package alloc implements the block allocator of §4.3: best-fit allocation
// of contiguous block runs, free-extent coalescing, and minimal file growth
// in chunk-sized increments.
//
// Grounded on original_source/extent_test.cpp and freelist_test.cpp for the
// address-indexed/size-indexed dual-index shape (SUPPLEMENTED FEATURES:
// the distilled spec only describes "the free-by-size index" and "the
// address index" in passing; the original keeps them as two explicit
// structures, which is what makes coalescing on free an O(log n) neighbor
// lookup instead of a scan). The free-by-size index is backed by
// github.com/google/btree, grounded on its use in the pack
// (AKJUS-bsc-erigon's history_reader_v3.go) for an ordered, range-queryable
// index - exactly what best-fit-by-size needs.
package alloc

import "github.com/google/btree"

// extent is a contiguous run of free blocks.
type extent struct {
	start int64
	n     int64
}

// byAddressItem orders extents by their starting address, used to find the
// left/right neighbors of a freed run for coalescing.
type byAddressItem extent

func (e byAddressItem) Less(than btree.Item) bool {
	return e.start < than.(byAddressItem).start
}

// bySizeItem orders extents by (size, address), so a best-fit search via
// AscendGreaterOrEqual lands on the smallest adequate extent and, among
// ties, the lowest address (§4.3 "ties broken by lowest address").
type bySizeItem extent

func (e bySizeItem) Less(than btree.Item) bool {
	o := than.(bySizeItem)
	if e.n != o.n {
		return e.n < o.n
	}

	return e.start < o.start
}
