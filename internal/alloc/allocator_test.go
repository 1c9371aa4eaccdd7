package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/engine"
)

// fakeGrower hands out consecutive blocks starting at 0, like a freshly
// created empty file would.
type fakeGrower struct {
	size int64
}

func (g *fakeGrower) Grow(n int64) (engine.BlockIndex, error) {
	first := engine.BlockIndex(g.size)
	g.size += n

	return first, nil
}

func TestAllocateGrowsInChunks(t *testing.T) {
	g := &fakeGrower{}
	a := alloc.New(g, 4)

	first, err := a.Allocate(1)
	require.NoError(t, err)
	require.Equal(t, engine.BlockIndex(0), first)
	require.Equal(t, int64(4), a.DataTotal())
	require.Equal(t, int64(1), a.DataUsed())
	require.Equal(t, int64(3), a.DataFree())
}

func TestFreeCoalescesAdjacentExtents(t *testing.T) {
	g := &fakeGrower{}
	a := alloc.New(g, 8)

	a1, err := a.Allocate(2)
	require.NoError(t, err)
	a2, err := a.Allocate(2)
	require.NoError(t, err)
	a3, err := a.Allocate(2)
	require.NoError(t, err)

	require.NoError(t, a.Free(a1, 2))
	require.NoError(t, a.Free(a3, 2))
	require.NoError(t, a.Free(a2, 2))

	// All three freed in non-adjacent order should still coalesce, together
	// with the chunk's untouched 2-block tail, into one 8-block extent from
	// which the 6-block request is served at its start.
	whole, err := a.Allocate(6)
	require.NoError(t, err)
	require.Equal(t, engine.BlockIndex(0), whole)
	require.Equal(t, int64(8), a.DataTotal())
}

func TestBestFitPrefersSmallestAdequateExtent(t *testing.T) {
	g := &fakeGrower{}
	a := alloc.New(g, 100)

	x, err := a.Allocate(2) // blocks 0-1
	require.NoError(t, err)
	_, err = a.Allocate(3) // blocks 2-4, kept allocated to keep x and z non-adjacent
	require.NoError(t, err)
	z, err := a.Allocate(5) // blocks 5-9
	require.NoError(t, err)

	require.NoError(t, a.Free(x, 2))
	require.NoError(t, a.Free(z, 5))

	// Free extents now: {0,2}, {5,5}, {10,90}. A request for 4 blocks fits
	// only the last two; best fit picks the smaller one at the lower
	// address.
	got, err := a.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, engine.BlockIndex(5), got)
}

func TestNodeAllocatorReusesFreedBlocks(t *testing.T) {
	g := &fakeGrower{}
	n := alloc.NewNodeAllocator(g, 2)

	a1, err := n.Allocate()
	require.NoError(t, err)
	a2, err := n.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)

	require.NoError(t, n.Free(a1))

	a3, err := n.Allocate()
	require.NoError(t, err)
	require.Equal(t, a1, a3)

	a4, err := n.Allocate() // triggers another Grow since free list and bump are exhausted
	require.NoError(t, err)
	require.Equal(t, int64(4), n.DataTotal())
	require.NotEqual(t, a2, a4)
}
