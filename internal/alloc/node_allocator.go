package alloc

import (
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// NodeAllocator is the degenerate single-block allocator of §4.3: it only
// ever hands out runs of exactly one block, via a free list of previously
// released blocks plus a bump pointer past the high-water mark. Suitable as
// the backing allocator for fixed-size structures (B+tree nodes, heap
// chunks) that never need multi-block runs.
//
// Grounded on original_source/node_allocator_test.cpp, which exercises
// exactly this free-list-plus-bump-pointer shape as a distinct type from
// the general best-fit allocator (SUPPLEMENTED FEATURES).
type NodeAllocator struct {
	grower    Grower
	chunkSize int64

	free []engine.BlockIndex // released blocks available for reuse
	bump engine.BlockIndex   // next never-used block, Invalid until grown
	cap  int64               // number of blocks granted so far via Grow
	used int64
}

// NewNodeAllocator constructs a node allocator. chunkSize is the minimum
// number of blocks requested per Grow call.
func NewNodeAllocator(grower Grower, chunkSize int64) *NodeAllocator {
	if chunkSize < 1 {
		chunkSize = 1
	}

	return &NodeAllocator{grower: grower, chunkSize: chunkSize, bump: engine.Invalid}
}

// Allocate returns one free block.
func (a *NodeAllocator) Allocate() (engine.BlockIndex, error) {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.used++

		return idx, nil
	}

	if !a.bump.Valid() || int64(a.bump) >= a.cap {
		first, err := a.grower.Grow(a.chunkSize)
		if err != nil {
			return engine.Invalid, err
		}

		a.bump = first
		a.cap += a.chunkSize
	}

	idx := a.bump
	a.bump++
	a.used++

	return idx, nil
}

// Free releases a single block back to the free list.
func (a *NodeAllocator) Free(index engine.BlockIndex) error {
	if !index.Valid() {
		return perr.New(perr.ErrBadArgument, "node allocator: free: invalid block")
	}

	a.free = append(a.free, index)
	a.used--

	return nil
}

// NodeAllocatorState is a NodeAllocator's full persistable bookkeeping,
// captured by [NodeAllocator.Snapshot] and restored by
// [NodeAllocator.Restore] across a close/reopen.
type NodeAllocatorState struct {
	Free []engine.BlockIndex
	Bump engine.BlockIndex
	Cap  int64
	Used int64
}

// Snapshot captures the node allocator's current bookkeeping for
// persistence.
func (a *NodeAllocator) Snapshot() NodeAllocatorState {
	return NodeAllocatorState{
		Free: append([]engine.BlockIndex(nil), a.free...),
		Bump: a.bump,
		Cap:  a.cap,
		Used: a.used,
	}
}

// Restore re-establishes a node allocator's bookkeeping from a prior
// Snapshot. Must be called on a freshly constructed, empty NodeAllocator.
func (a *NodeAllocator) Restore(s NodeAllocatorState) {
	a.free = append([]engine.BlockIndex(nil), s.Free...)
	a.bump = s.Bump
	a.cap = s.Cap
	a.used = s.Used
}

// DataTotal returns the number of blocks ever granted by Grow.
func (a *NodeAllocator) DataTotal() int64 { return a.cap }

// DataUsed returns the number of blocks currently allocated.
func (a *NodeAllocator) DataUsed() int64 { return a.used }

// DataFree returns the number of free, unallocated blocks.
func (a *NodeAllocator) DataFree() int64 { return a.cap - a.used }
