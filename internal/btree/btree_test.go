package btree_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/btree"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

// value layout for tests: 8-byte big-endian key followed by 4 bytes of
// padding, giving a fixed 12-byte value whose key is its own prefix.
const valueSize = 12

func keyOf(v []byte) []byte { return v[:8] }

func cmp(a, b []byte) int { return bytes.Compare(a, b) }

func makeValue(k uint64) []byte {
	v := make([]byte, valueSize)
	binary.BigEndian.PutUint64(v[:8], k)

	return v
}

func newTestTree(t *testing.T, blockSize int) (*btree.Tree, *engine.Engine) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tree.db")
	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	eng, err := engine.Open(engine.NewFileSource(f, blockSize), 0, engine.Options{BlockSize: blockSize, MaxCachedBlocks: 64})
	require.NoError(t, err)

	nodes := alloc.NewNodeAllocator(eng, 4)

	layout, err := btree.NewLayout(blockSize, 8, valueSize)
	require.NoError(t, err)

	tree, err := btree.Create(eng, nodes, layout, keyOf, cmp)
	require.NoError(t, err)

	return tree, eng
}

func TestInsertFindAcrossSplits(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	const n = 200
	for i := uint64(0); i < n; i++ {
		ok, err := tree.Insert(makeValue(i), true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := uint64(0); i < n; i++ {
		_, _, found, err := tree.Find(makeValue(i)[:8])
		require.NoError(t, err)
		require.True(t, found, "key %d should be found", i)
	}

	_, _, found, err := tree.Find(makeValue(n + 1)[:8])
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertWithoutOverwriteRejectsDuplicate(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	ok, err := tree.Insert(makeValue(5), false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(makeValue(5), false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCursorIteratesInOrder(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	const n = 150
	for i := uint64(0); i < n; i++ {
		_, err := tree.Insert(makeValue(i), true)
		require.NoError(t, err)
	}

	c, err := tree.SeekMinCursor()
	require.NoError(t, err)
	defer c.Close()

	var got []uint64
	for c.Valid() {
		v, err := c.Get()
		require.NoError(t, err)
		got = append(got, binary.BigEndian.Uint64(v[:8]))

		err = c.MoveNext()
		require.NoError(t, err)
	}

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, uint64(i), v)
	}
}

func TestDeleteShrinksAndRemainingKeysFindable(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	const n = 200
	for i := uint64(0); i < n; i++ {
		_, err := tree.Insert(makeValue(i), true)
		require.NoError(t, err)
	}

	for i := uint64(0); i < n; i += 2 {
		deleted, err := tree.Delete(makeValue(i)[:8])
		require.NoError(t, err)
		require.True(t, deleted)
	}

	for i := uint64(0); i < n; i++ {
		_, _, found, err := tree.Find(makeValue(i)[:8])
		require.NoError(t, err)
		require.Equal(t, i%2 == 1, found)
	}
}

func TestCursorFlaggedDeletedAfterErase(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	for i := uint64(0); i < 10; i++ {
		_, err := tree.Insert(makeValue(i), true)
		require.NoError(t, err)
	}

	c, err := tree.FindCursor(makeValue(3)[:8])
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Valid())
	require.NoError(t, c.Erase())
	require.True(t, c.Deleted())
	require.False(t, c.Valid())
}

func TestBulkLoadProducesSearchableTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulk.db")
	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	const blockSize = 64

	eng, err := engine.Open(engine.NewFileSource(f, blockSize), 0, engine.Options{BlockSize: blockSize, MaxCachedBlocks: 64})
	require.NoError(t, err)

	nodes := alloc.NewNodeAllocator(eng, 4)
	layout, err := btree.NewLayout(blockSize, 8, valueSize)
	require.NoError(t, err)

	loader := btree.NewLoader(eng, nodes, layout, keyOf, cmp)

	const n = 300
	for i := uint64(0); i < n; i++ {
		require.NoError(t, loader.Add(makeValue(i)))
	}

	root, err := loader.Finish()
	require.NoError(t, err)

	tree := btree.Open(eng, nodes, layout, keyOf, cmp, root)

	for i := uint64(0); i < n; i++ {
		_, _, found, err := tree.Find(makeValue(i)[:8])
		require.NoError(t, err)
		require.True(t, found)
	}
}
