// Package engine implements the paging engine (§4.1 in the design doc): it
// presents a file as an array of fixed-size blocks, caches frequently
// accessed blocks, and coordinates pin/unpin/dirty/flush so higher layers
// (journal, allocator, B+tree, blob heap) can treat the file as addressable
// memory.
//
// Grounded on the teacher's pkg/slotcache cache/mmap bookkeeping style and
// on the pager/bufmgr shape found across the retrieval pack
// (pkg/pager.Pager, bufmgr.go): a map-indexed cache backed by a
// container/list LRU of unpinned entries, plus a bounded pool of reusable
// buffers to avoid churn (§3.2).
package engine

import "math"

// BlockIndex names one block in the file. Invalid is the reserved value
// denoting absence (§3.1).
type BlockIndex uint64

// Invalid is the reserved "no block" sentinel.
const Invalid BlockIndex = math.MaxUint64

// Valid reports whether i is not the Invalid sentinel.
func (i BlockIndex) Valid() bool { return i != Invalid }
