package heap_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/heap"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

const blobType heap.TypeIndex = 1

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()

	const blockSize = 256

	path := filepath.Join(t.TempDir(), "heap.db")
	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	eng, err := engine.Open(engine.NewFileSource(f, blockSize), 0, engine.Options{BlockSize: blockSize, MaxCachedBlocks: 256})
	require.NoError(t, err)

	nodes := alloc.NewNodeAllocator(eng, 2)
	data := alloc.New(eng, 8)

	h, err := heap.Create(eng, nodes, data, heap.Options{MaxSmallObjectCells: 8, ChunkSizeBlocks: 2})
	require.NoError(t, err)

	err = h.RegisterType(heap.TypeInfo{Index: blobType, DynamicSize: true}, nil)
	require.NoError(t, err)

	return h
}

func TestInsertAndLoadRoundTrip(t *testing.T) {
	h := newTestHeap(t)

	const n = 300

	refs := make([]heap.Reference, n)
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf("hello world %d!!!1", i))

		ref, err := h.Insert(blobType, payload)
		require.NoError(t, err)

		refs[i] = ref
	}

	for i, ref := range refs {
		want := []byte(fmt.Sprintf("hello world %d!!!1", i))

		size, err := h.Size(ref)
		require.NoError(t, err)
		require.Equal(t, len(want), size)

		got := make([]byte, size)
		n, err := h.Load(ref, got)
		require.NoError(t, err)
		require.Equal(t, len(want), n)
		require.Equal(t, want, got)
	}
}

func TestInsertRejectsUnregisteredType(t *testing.T) {
	h := newTestHeap(t)

	_, err := h.Insert(heap.TypeIndex(99), []byte("x"))
	require.Error(t, err)
}

func TestLargeObjectGetsDedicatedChunk(t *testing.T) {
	h := newTestHeap(t)

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i)
	}

	ref, err := h.Insert(blobType, big)
	require.NoError(t, err)

	got := make([]byte, len(big))
	n, err := h.Load(ref, got)
	require.NoError(t, err)
	require.Equal(t, len(big), n)
	require.Equal(t, big, got)
}

func TestCollectionReclaimsUnreachableObjects(t *testing.T) {
	h := newTestHeap(t)

	const n = 200

	refs := make([]heap.Reference, n)
	for i := 0; i < n; i++ {
		ref, err := h.Insert(blobType, []byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)

		refs[i] = ref
	}

	var kept []heap.Reference
	for i, ref := range refs {
		if i%3 == 0 {
			kept = append(kept, ref)
		}
	}

	c, err := h.Begin()
	require.NoError(t, err)

	for _, ref := range kept {
		require.NoError(t, c.Visit(ref))
	}

	require.NoError(t, c.Run())

	for _, ref := range kept {
		_, err := h.Size(ref)
		require.NoError(t, err, "kept reference should still be live")
	}

	reclaimed, err := h.Insert(blobType, []byte("reuses a freed slot, probably"))
	require.NoError(t, err)
	require.True(t, reclaimed.Valid())
}

func TestFinalizerFiresExactlyOnceForReclaimedObject(t *testing.T) {
	h := newTestHeap(t)

	var finalized []heap.Reference

	const finalizedType heap.TypeIndex = 2
	err := h.RegisterType(heap.TypeInfo{
		Index:       finalizedType,
		DynamicSize: true,
		Finalizer:   func(ref heap.Reference) { finalized = append(finalized, ref) },
	}, nil)
	require.NoError(t, err)

	ref, err := h.Insert(finalizedType, []byte("ephemeral"))
	require.NoError(t, err)

	c, err := h.Begin()
	require.NoError(t, err)
	require.NoError(t, c.Run())

	require.Equal(t, []heap.Reference{ref}, finalized)
}

func TestSecondCollectionWhileFirstInProgressFails(t *testing.T) {
	h := newTestHeap(t)

	_, err := h.Begin()
	require.NoError(t, err)

	_, err = h.Begin()
	require.Error(t, err)
}

func TestHeapSurvivesReopen(t *testing.T) {
	const blockSize = 256

	path := filepath.Join(t.TempDir(), "heap.db")
	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	eng, err := engine.Open(engine.NewFileSource(f, blockSize), 0, engine.Options{BlockSize: blockSize, MaxCachedBlocks: 256})
	require.NoError(t, err)

	nodes := alloc.NewNodeAllocator(eng, 2)
	data := alloc.New(eng, 8)

	h, err := heap.Create(eng, nodes, data, heap.Options{MaxSmallObjectCells: 8, ChunkSizeBlocks: 2})
	require.NoError(t, err)

	err = h.RegisterType(heap.TypeInfo{Index: blobType, DynamicSize: true}, nil)
	require.NoError(t, err)

	ref, err := h.Insert(blobType, []byte("persisted across reopen"))
	require.NoError(t, err)

	root := h.Root()

	reopened, err := heap.Open(eng, nodes, data, root)
	require.NoError(t, err)

	err = reopened.RegisterType(heap.TypeInfo{Index: blobType, DynamicSize: true}, nil)
	require.NoError(t, err)

	size, err := reopened.Size(ref)
	require.NoError(t, err)

	got := make([]byte, size)
	_, err = reopened.Load(ref, got)
	require.NoError(t, err)
	require.Equal(t, "persisted across reopen", string(got))
}
