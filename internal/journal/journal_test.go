package journal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/journal"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

func openPair(t *testing.T) (db, log fs.File) {
	t.Helper()

	dir := t.TempDir()
	real := fs.NewReal()

	db, err := real.OpenFile(filepath.Join(dir, "data.db"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log, err = real.OpenFile(filepath.Join(dir, "data.log"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return db, log
}

func TestCommitMakesWritesVisibleAfterReopen(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 0, journal.Options{BlockSize: 8, SyncOnCommit: true})
	require.NoError(t, err)

	require.NoError(t, j.Begin())
	require.NoError(t, j.Truncate(2))
	require.NoError(t, j.WriteBlock(0, []byte("aaaaaaaa")))
	require.NoError(t, j.WriteBlock(1, []byte("bbbbbbbb")))
	require.NoError(t, j.Commit())

	buf := make([]byte, 8)
	require.NoError(t, j.ReadBlock(0, buf))
	require.Equal(t, "aaaaaaaa", string(buf))

	j2, err := journal.Open(db, log, 0, journal.Options{BlockSize: 8, SyncOnCommit: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), j2.CommittedSize())

	buf2 := make([]byte, 8)
	require.NoError(t, j2.ReadBlock(1, buf2))
	require.Equal(t, "bbbbbbbb", string(buf2))
}

func TestRollbackDiscardsUncommittedWrites(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 1, journal.Options{BlockSize: 8})
	require.NoError(t, err)

	require.NoError(t, j.Begin())
	require.NoError(t, j.WriteBlock(0, []byte("xxxxxxxx")))

	touched := j.Rollback()
	require.Contains(t, touched, engine.BlockIndex(0))

	require.False(t, j.InTransaction())

	buf := make([]byte, 8)
	require.NoError(t, j.ReadBlock(0, buf))
	require.NotEqual(t, "xxxxxxxx", string(buf))
}

func TestReadBeyondCommittedSizeIsZeroFilled(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 1, journal.Options{BlockSize: 4})
	require.NoError(t, err)

	buf := []byte{1, 2, 3, 4}
	require.NoError(t, j.ReadBlock(5, buf))
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestCheckpointFoldsLogIntoDatabase(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 0, journal.Options{BlockSize: 4})
	require.NoError(t, err)

	require.NoError(t, j.Begin())
	require.NoError(t, j.Truncate(1))
	require.NoError(t, j.WriteBlock(0, []byte("ZZZZ")))
	require.NoError(t, j.Commit())

	require.NoError(t, j.Checkpoint())

	dbBuf := make([]byte, 4)
	_, err = db.ReadAt(dbBuf, 0)
	require.NoError(t, err)
	require.Equal(t, "ZZZZ", string(dbBuf))

	require.NoError(t, j.Checkpoint()) // idempotent: nothing committed since last checkpoint
}

func TestCheckpointRejectsInsideTransaction(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 0, journal.Options{BlockSize: 4})
	require.NoError(t, err)

	require.NoError(t, j.Begin())
	require.Error(t, j.Checkpoint())
}

func TestRestoreStopsAtPartialRecord(t *testing.T) {
	db, log := openPair(t)

	j, err := journal.Open(db, log, 0, journal.Options{BlockSize: 4})
	require.NoError(t, err)

	require.NoError(t, j.Begin())
	require.NoError(t, j.Truncate(1))
	require.NoError(t, j.WriteBlock(0, []byte("AAAA")))
	require.NoError(t, j.Commit())

	// Simulate a crash mid-write of a second, never-committed transaction by
	// appending a truncated write record directly to the log file.
	info, err := log.Stat()
	require.NoError(t, err)

	garbage := []byte{4, 0, 0, 0, 0, 0, 0, 0, 1, 'B', 'B'} // tagWrite, index 1, short payload
	_, err = log.WriteAt(garbage, info.Size())
	require.NoError(t, err)

	j2, err := journal.Open(db, log, 0, journal.Options{BlockSize: 4})
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, j2.ReadBlock(0, buf))
	require.Equal(t, "AAAA", string(buf))
	require.Equal(t, int64(1), j2.CommittedSize())
}
