package alloc

import (
	"github.com/google/btree"

	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// Grower is the minimal capability the allocator needs from whatever
// backs the file - satisfied directly by *engine.Engine.
type Grower interface {
	Grow(n int64) (engine.BlockIndex, error)
}

// Allocator is the best-fit block allocator of §4.3.
//
// Not safe for concurrent use, matching every other layer in this module.
type Allocator struct {
	grower    Grower
	chunkSize int64

	total int64
	used  int64

	byAddress *btree.BTree
	bySize    *btree.BTree
}

// New constructs an allocator with no free extents and no allocated space;
// every block it will ever hand out comes from growing through grower.
// chunkSize is the minimum number of blocks added per grow (§4.3).
func New(grower Grower, chunkSize int64) *Allocator {
	if chunkSize < 1 {
		chunkSize = 1
	}

	return &Allocator{
		grower:    grower,
		chunkSize: chunkSize,
		byAddress: btree.New(32),
		bySize:    btree.New(32),
	}
}

// Allocate returns the start of a run of n free blocks, growing the
// underlying file in chunks of at least chunkSize blocks if no existing
// extent fits.
func (a *Allocator) Allocate(n int64) (engine.BlockIndex, error) {
	if n <= 0 {
		return engine.Invalid, perr.New(perr.ErrBadArgument, "allocate: n must be > 0")
	}

	ext, ok := a.bestFit(n)
	if !ok {
		grow := n
		if grow < a.chunkSize {
			grow = a.chunkSize
		}

		first, err := a.grower.Grow(grow)
		if err != nil {
			return engine.Invalid, err
		}

		a.total += grow
		a.insertFree(extent{start: int64(first), n: grow})

		ext, ok = a.bestFit(n)
		if !ok {
			return engine.Invalid, perr.New(perr.ErrCorruption, "allocate: grow did not yield a usable extent")
		}
	}

	a.removeFree(ext)

	if ext.n > n {
		a.insertFree(extent{start: ext.start + n, n: ext.n - n})
	}

	a.used += n

	return engine.BlockIndex(ext.start), nil
}

// Free releases a previously allocated run of n blocks starting at first,
// coalescing with adjacent free extents (§4.3).
func (a *Allocator) Free(first engine.BlockIndex, n int64) error {
	if n <= 0 {
		return perr.New(perr.ErrBadArgument, "free: n must be > 0")
	}

	merged := extent{start: int64(first), n: n}

	if left, ok := a.leftNeighbor(merged.start); ok {
		a.removeFree(left)
		merged.start = left.start
		merged.n += left.n
	}

	if right, ok := a.rightNeighbor(merged.start + merged.n); ok {
		a.removeFree(right)
		merged.n += right.n
	}

	a.insertFree(merged)
	a.used -= n

	return nil
}

// FreeExtent is one free run, as reported by [Allocator.Snapshot].
type FreeExtent struct {
	Start engine.BlockIndex
	N     int64
}

// State is an allocator's full persistable bookkeeping, captured by
// [Allocator.Snapshot] and restored by [Allocator.Restore] across a
// close/reopen (§3.4: "allocator state" is part of the persisted anchors).
type State struct {
	Total int64
	Used  int64
	Free  []FreeExtent
}

// Snapshot captures the allocator's current bookkeeping for persistence.
func (a *Allocator) Snapshot() State {
	s := State{Total: a.total, Used: a.used}

	a.byAddress.Ascend(func(item btree.Item) bool {
		e := extent(item.(byAddressItem))
		s.Free = append(s.Free, FreeExtent{Start: engine.BlockIndex(e.start), N: e.n})

		return true
	})

	return s
}

// Restore re-establishes an allocator's bookkeeping from a prior Snapshot.
// Must be called on a freshly constructed, empty allocator.
func (a *Allocator) Restore(s State) {
	a.total = s.Total
	a.used = s.Used

	for _, e := range s.Free {
		a.insertFree(extent{start: int64(e.Start), n: e.N})
	}
}

// DataTotal returns the total number of blocks ever granted by Grow.
func (a *Allocator) DataTotal() int64 { return a.total }

// DataUsed returns the number of blocks currently allocated.
func (a *Allocator) DataUsed() int64 { return a.used }

// DataFree returns the number of free, unallocated blocks.
func (a *Allocator) DataFree() int64 { return a.total - a.used }

func (a *Allocator) bestFit(n int64) (extent, bool) {
	var found extent

	ok := false

	a.bySize.AscendGreaterOrEqual(bySizeItem{n: n}, func(item btree.Item) bool {
		found = extent(item.(bySizeItem))
		ok = true

		return false
	})

	return found, ok
}

func (a *Allocator) leftNeighbor(start int64) (extent, bool) {
	var found extent

	ok := false

	a.byAddress.DescendLessOrEqual(byAddressItem{start: start}, func(item btree.Item) bool {
		e := extent(item.(byAddressItem))
		if e.start < start {
			found = e
			ok = e.start+e.n == start
		}

		return false
	})

	return found, ok
}

func (a *Allocator) rightNeighbor(addr int64) (extent, bool) {
	item := a.byAddress.Get(byAddressItem{start: addr})
	if item == nil {
		return extent{}, false
	}

	return extent(item.(byAddressItem)), true
}

func (a *Allocator) insertFree(e extent) {
	a.byAddress.ReplaceOrInsert(byAddressItem(e))
	a.bySize.ReplaceOrInsert(bySizeItem(e))
}

func (a *Allocator) removeFree(e extent) {
	a.byAddress.Delete(byAddressItem(e))
	a.bySize.Delete(bySizeItem(e))
}
