package alloc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

func newTestEngine(t *testing.T, blockSize int) *engine.Engine {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stream.db")
	f, err := fs.NewReal().OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	eng, err := engine.Open(engine.NewFileSource(f, blockSize), 0, engine.Options{BlockSize: blockSize, MaxCachedBlocks: 64})
	require.NoError(t, err)

	return eng
}

func TestStreamWritesAcrossMultipleBlocks(t *testing.T) {
	const blockSize = 8

	eng := newTestEngine(t, blockSize)

	first, err := eng.Grow(3)
	require.NoError(t, err)

	blocks := []engine.BlockIndex{first, first + 1, first + 2}

	payload := []byte("0123456789ABCDEFGHIJKL") // 22 bytes, spans 3 blocks of 8

	s := alloc.NewStream(eng, blockSize)

	pos := 0
	for _, idx := range blocks {
		n, err := s.WriteBlock(idx, payload[pos:])
		require.NoError(t, err)
		pos += n
	}

	require.NoError(t, s.Close())
	require.Equal(t, len(payload), pos)

	for i, idx := range blocks {
		h, err := eng.Pin(idx, true)
		require.NoError(t, err)

		start := i * blockSize
		end := min(start+blockSize, len(payload))

		want := make([]byte, blockSize)
		copy(want, payload[start:end])

		require.Equal(t, want, h.Bytes())
		require.NoError(t, eng.Unpin(h))
	}
}

func TestStreamCloseWithoutAnyWriteIsNoop(t *testing.T) {
	eng := newTestEngine(t, 8)

	s := alloc.NewStream(eng, 8)
	require.NoError(t, s.Close())
}
