package pagestore_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore"
	"github.com/calvinalkan/pagestore/internal/codec"
)

const testValueSize = 24

func makeRecord(k uint64) []byte {
	v := make([]byte, testValueSize)
	binary.BigEndian.PutUint64(v[:8], k)

	return v
}

func testPaths(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()

	return filepath.Join(dir, "test.db"), filepath.Join(dir, "test.db.log")
}

func createTestDB(t *testing.T, opts pagestore.Options) *pagestore.Database {
	t.Helper()

	dbPath, logPath := testPaths(t)

	if opts.KeySize == 0 {
		opts.KeySize = 8
	}

	if opts.ValueSize == 0 {
		opts.ValueSize = testValueSize
	}

	if opts.BlockSize == 0 {
		opts.BlockSize = 512
	}

	db, err := pagestore.Create(dbPath, logPath, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestCreateInsertFindDelete(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	const n = 100
	for i := uint64(0); i < n; i++ {
		inserted, err := db.Insert(makeRecord(i), false)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	c, err := db.FindCursor(makeRecord(42)[:8])
	require.NoError(t, err)
	require.True(t, c.Valid())

	v, err := c.Get()
	require.NoError(t, err)
	require.Equal(t, makeRecord(42), v)
	c.Close()

	deleted, err := db.Delete(makeRecord(42)[:8])
	require.NoError(t, err)
	require.True(t, deleted)

	c, err = db.FindCursor(makeRecord(42)[:8])
	require.NoError(t, err)
	require.False(t, c.Valid())
	c.Close()
}

func TestInsertOverwrite(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	inserted, err := db.Insert(makeRecord(1), false)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = db.Insert(makeRecord(1), false)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate key without overwrite should not insert")

	inserted, err = db.Insert(makeRecord(1), true)
	require.NoError(t, err)
	require.False(t, inserted, "overwrite replaces in place, it doesn't count as a new insert")
}

func TestCursorOrderedIteration(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	const n = 50
	for i := uint64(0); i < n; i++ {
		_, err := db.Insert(makeRecord(n-1-i), false)
		require.NoError(t, err)
	}

	c, err := db.SeekMinCursor()
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

	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}
}

func TestCursorSurvivesConcurrentErase(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	for i := uint64(0); i < 10; i++ {
		_, err := db.Insert(makeRecord(i), false)
		require.NoError(t, err)
	}

	c, err := db.FindCursor(makeRecord(5)[:8])
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Valid())

	deleted, err := db.Delete(makeRecord(5)[:8])
	require.NoError(t, err)
	require.True(t, deleted)

	require.True(t, c.Deleted())
	require.False(t, c.Valid())
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	_, err := db.Insert(makeRecord(1), false)
	require.NoError(t, err)

	err = db.Begin()
	require.NoError(t, err)

	_, err = db.Insert(makeRecord(2), false)
	require.NoError(t, err)

	err = db.Rollback()
	require.NoError(t, err)

	c, err := db.FindCursor(makeRecord(1)[:8])
	require.NoError(t, err)
	require.True(t, c.Valid(), "committed record must survive a later rollback")
	c.Close()

	c, err = db.FindCursor(makeRecord(2)[:8])
	require.NoError(t, err)
	require.False(t, c.Valid(), "uncommitted record must not survive a rollback")
	c.Close()
}

func TestCheckpointThenReopenPreservesData(t *testing.T) {
	dbPath, logPath := testPaths(t)

	opts := pagestore.Options{KeySize: 8, ValueSize: testValueSize, BlockSize: 512}

	db, err := pagestore.Create(dbPath, logPath, opts)
	require.NoError(t, err)

	for i := uint64(0); i < 30; i++ {
		_, err = db.Insert(makeRecord(i), false)
		require.NoError(t, err)
	}

	err = db.Checkpoint()
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db, err = pagestore.Open(dbPath, logPath, pagestore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := uint64(0); i < 30; i++ {
		c, err := db.FindCursor(makeRecord(i)[:8])
		require.NoError(t, err)
		require.True(t, c.Valid())

		v, err := c.Get()
		require.NoError(t, err)
		require.Equal(t, makeRecord(i), v)
		c.Close()
	}
}

func TestReopenWithoutCheckpointReplaysJournal(t *testing.T) {
	dbPath, logPath := testPaths(t)

	opts := pagestore.Options{KeySize: 8, ValueSize: testValueSize, BlockSize: 512}

	db, err := pagestore.Create(dbPath, logPath, opts)
	require.NoError(t, err)

	_, err = db.Insert(makeRecord(7), false)
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db, err = pagestore.Open(dbPath, logPath, pagestore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := db.FindCursor(makeRecord(7)[:8])
	require.NoError(t, err)
	require.True(t, c.Valid())
	c.Close()
}

func TestBlobInsertLoadAndGarbageCollect(t *testing.T) {
	db := createTestDB(t, pagestore.Options{})

	err := db.RegisterBlobType(pagestore.BlobTypeInfo{ContainsReferences: false}, nil)
	require.NoError(t, err)

	ref1, err := db.InsertBlob(0, []byte("kept alive by being a root"))
	require.NoError(t, err)

	ref2, err := db.InsertBlob(0, []byte("unreachable, should be collected"))
	require.NoError(t, err)

	size, err := db.BlobSize(ref1)
	require.NoError(t, err)
	require.Equal(t, len("kept alive by being a root"), size)

	err = db.CollectGarbage([]pagestore.BlobReference{ref1})
	require.NoError(t, err)

	dst := make([]byte, 64)
	n, err := db.LoadBlob(ref1, dst)
	require.NoError(t, err)
	require.Equal(t, "kept alive by being a root", string(dst[:n]))

	_, err = db.BlobSize(ref2)
	require.Error(t, err, "blob not in the root set should have been collected")
}

func TestBlobCompressionRoundTrips(t *testing.T) {
	db := createTestDB(t, pagestore.Options{
		Heap: pagestore.HeapOptions{CompressionThreshold: 32},
	})

	err := db.RegisterBlobType(pagestore.BlobTypeInfo{}, nil)
	require.NoError(t, err)

	small := []byte("tiny") // under threshold, stored raw
	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i % 7) // repetitive, compresses well
	}

	refSmall, err := db.InsertBlob(0, small)
	require.NoError(t, err)

	refLarge, err := db.InsertBlob(0, large)
	require.NoError(t, err)

	sizeSmall, err := db.BlobSize(refSmall)
	require.NoError(t, err)
	require.Equal(t, len(small), sizeSmall)

	sizeLarge, err := db.BlobSize(refLarge)
	require.NoError(t, err)
	require.Equal(t, len(large), sizeLarge)

	gotSmall := make([]byte, len(small))
	_, err = db.LoadBlob(refSmall, gotSmall)
	require.NoError(t, err)
	require.Equal(t, small, gotSmall)

	gotLarge := make([]byte, len(large))
	n, err := db.LoadBlob(refLarge, gotLarge)
	require.NoError(t, err)
	require.Equal(t, len(large), n)
	require.Empty(t, cmp.Diff(large, gotLarge))
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	dbPath, logPath := testPaths(t)

	opts := pagestore.Options{KeySize: 8, ValueSize: testValueSize, BlockSize: 512}

	db, err := pagestore.Create(dbPath, logPath, opts)
	require.NoError(t, err)

	_, err = db.Insert(makeRecord(1), false)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := pagestore.Open(dbPath, logPath, pagestore.Options{ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	_, err = ro.Insert(makeRecord(2), false)
	require.ErrorIs(t, err, pagestore.ErrReadOnly)

	c, err := ro.FindCursor(makeRecord(1)[:8])
	require.NoError(t, err)
	require.True(t, c.Valid())
	c.Close()
}

// TestHashKeyFuncOrdersByContent exercises codec.HashKeyFunc as an
// alternative to the default first-N-bytes extractor, for values with no
// natural fixed-size key prefix (see options.go's KeyFunc doc comment).
func TestHashKeyFuncOrdersByContent(t *testing.T) {
	db := createTestDB(t, pagestore.Options{
		KeySize:   8,
		ValueSize: testValueSize,
		KeyFunc:   codec.HashKeyFunc,
	})

	a := make([]byte, testValueSize)
	copy(a, "first record, irregular shape")

	b := make([]byte, testValueSize)
	copy(b, "second record, also irregular")

	_, err := db.Insert(a, false)
	require.NoError(t, err)

	_, err = db.Insert(b, false)
	require.NoError(t, err)

	c, err := db.FindCursor(codec.HashKeyFunc(a))
	require.NoError(t, err)
	require.True(t, c.Valid())

	got, err := c.Get()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(a, got))
	c.Close()
}

func TestMmapBackedDatabaseSurvivesCloseAndReopen(t *testing.T) {
	dbPath, logPath := testPaths(t)

	opts := pagestore.Options{KeySize: 8, ValueSize: testValueSize, BlockSize: 512, UseMmap: true}

	db, err := pagestore.Create(dbPath, logPath, opts)
	require.NoError(t, err)

	for i := uint64(0); i < 40; i++ {
		_, err = db.Insert(makeRecord(i), false)
		require.NoError(t, err)
	}

	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	db, err = pagestore.Open(dbPath, logPath, pagestore.Options{UseMmap: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := uint64(0); i < 40; i++ {
		c, err := db.FindCursor(makeRecord(i)[:8])
		require.NoError(t, err)
		require.True(t, c.Valid())

		v, err := c.Get()
		require.NoError(t, err)
		require.Equal(t, makeRecord(i), v)
		c.Close()
	}
}

func TestSaveAndLoadOptionsFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagestore.json")

	opts := pagestore.Options{
		BlockSize:       1024,
		MaxCachedBlocks: 256,
		KeySize:         8,
		ValueSize:       16,
		DataChunkSize:   4,
		NodeChunkSize:   4,
		Heap:            pagestore.HeapOptions{CompressionThreshold: 64},
		SyncOnCommit:    true,
		ReadOnly:        false,
		UseMmap:         true,
	}

	require.NoError(t, pagestore.SaveOptionsFile(path, opts))

	loaded, err := pagestore.LoadOptionsFile(path)
	require.NoError(t, err)

	require.Equal(t, opts.BlockSize, loaded.BlockSize)
	require.Equal(t, opts.MaxCachedBlocks, loaded.MaxCachedBlocks)
	require.Equal(t, opts.KeySize, loaded.KeySize)
	require.Equal(t, opts.ValueSize, loaded.ValueSize)
	require.Equal(t, opts.Heap.CompressionThreshold, loaded.Heap.CompressionThreshold)
	require.Equal(t, opts.SyncOnCommit, loaded.SyncOnCommit)
	require.Equal(t, opts.UseMmap, loaded.UseMmap)
}

func TestCreateRejectsZeroKeyOrValueSize(t *testing.T) {
	dbPath, logPath := testPaths(t)

	_, err := pagestore.Create(dbPath, logPath, pagestore.Options{})
	require.ErrorIs(t, err, pagestore.ErrBadArgument)

	_, err = os.Stat(dbPath)
	require.True(t, os.IsNotExist(err), "a rejected Create must not leave a partial file behind")
}
