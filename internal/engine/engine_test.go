package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

func openTestFile(t *testing.T) fs.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.db")

	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	t.Cleanup(func() { _ = f.Close() })

	return f
}

func TestPinReadsFromDisk(t *testing.T) {
	f := openTestFile(t)

	e, err := engine.Open(engine.NewFileSource(f, 16), 0, engine.Options{BlockSize: 16, MaxCachedBlocks: 4})
	require.NoError(t, err)

	_, err = e.Grow(2)
	require.NoError(t, err)

	h, err := e.Pin(0, false)
	require.NoError(t, err)

	copy(h.Bytes(), []byte("hello world!!!!!"))
	require.NoError(t, e.MarkDirty(h))
	require.NoError(t, e.Flush(h))
	require.NoError(t, e.Unpin(h))

	h2, err := e.Pin(0, true)
	require.NoError(t, err)
	require.Equal(t, "hello world!!!!!", string(h2.Bytes()))
	require.NoError(t, e.Unpin(h2))
}

func TestDoublePinFails(t *testing.T) {
	f := openTestFile(t)

	e, err := engine.Open(engine.NewFileSource(f, 16), 0, engine.Options{BlockSize: 16, MaxCachedBlocks: 4})
	require.NoError(t, err)

	_, err = e.Grow(1)
	require.NoError(t, err)

	h, err := e.Pin(0, false)
	require.NoError(t, err)

	_, err = e.Pin(0, false)
	require.Error(t, err)

	require.NoError(t, e.Unpin(h))

	h2, err := e.Pin(0, false)
	require.NoError(t, err)
	require.NoError(t, e.Unpin(h2))
}

func TestPinOutOfRangeFails(t *testing.T) {
	f := openTestFile(t)

	e, err := engine.Open(engine.NewFileSource(f, 16), 0, engine.Options{BlockSize: 16, MaxCachedBlocks: 4})
	require.NoError(t, err)

	_, err = e.Pin(0, false)
	require.Error(t, err)
}

func TestEvictionFlushesDirtyVictims(t *testing.T) {
	f := openTestFile(t)

	e, err := engine.Open(engine.NewFileSource(f, 8), 0, engine.Options{BlockSize: 8, MaxCachedBlocks: 2})
	require.NoError(t, err)

	_, err = e.Grow(3)
	require.NoError(t, err)

	for i := engine.BlockIndex(0); i < 3; i++ {
		h, err := e.Pin(i, false)
		require.NoError(t, err)

		v := byte(i) + 1
		copy(h.Bytes(), []byte{v, v, v, v, v, v, v, v})
		require.NoError(t, e.MarkDirty(h))
		require.NoError(t, e.Unpin(h))
	}

	// Block 0 should have been evicted (and flushed) by now since cache cap is 2.
	h, err := e.Pin(0, true)
	require.NoError(t, err)
	require.Equal(t, byte(1), h.Bytes()[0])
	require.NoError(t, e.Unpin(h))
}

func TestTruncateDiscardsOutOfRangeBlocks(t *testing.T) {
	f := openTestFile(t)

	e, err := engine.Open(engine.NewFileSource(f, 8), 0, engine.Options{BlockSize: 8, MaxCachedBlocks: 4})
	require.NoError(t, err)

	_, err = e.Grow(4)
	require.NoError(t, err)

	h, err := e.Pin(3, false)
	require.NoError(t, err)
	require.NoError(t, e.Unpin(h))

	require.NoError(t, e.Truncate(2))
	require.Equal(t, int64(2), e.Size())

	_, err = e.Pin(3, false)
	require.Error(t, err)
}

func TestReadOnlyBlocksGrowAndDirty(t *testing.T) {
	f := openTestFile(t)

	rw, err := engine.Open(engine.NewFileSource(f, 8), 0, engine.Options{BlockSize: 8, MaxCachedBlocks: 4})
	require.NoError(t, err)
	_, err = rw.Grow(1)
	require.NoError(t, err)

	ro, err := engine.Open(engine.NewFileSource(f, 8), 1, engine.Options{BlockSize: 8, MaxCachedBlocks: 4, ReadOnly: true})
	require.NoError(t, err)

	_, err = ro.Grow(1)
	require.ErrorIs(t, err, perr.ErrReadOnly)

	h, err := ro.Pin(0, true)
	require.NoError(t, err)

	err = ro.MarkDirty(h)
	require.ErrorIs(t, err, perr.ErrReadOnly)
}
