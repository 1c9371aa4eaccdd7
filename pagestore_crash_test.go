package pagestore

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/pagestore/pkg/fs"
)

// crashRecord builds a fixed-size value the same shape pagestore_test.go
// uses, kept local so this white-box test doesn't need to export makeRecord.
func crashRecord(k uint64) []byte {
	v := make([]byte, 24)
	binary.BigEndian.PutUint64(v[:8], k)

	return v
}

// TestCrashDuringCommitRecoversCommittedData drives the create/open path
// through a fs.Crash filesystem wrapper (§8 scenario 5: journal crash
// simulation). It exercises the durability contract directly instead of
// hand-appending garbage bytes the way journal_test.go's
// TestRestoreStopsAtPartialRecord does: a transaction that reaches Commit
// (and is therefore synced, since SyncOnCommit is set) must survive a
// simulated crash and replay cleanly on reopen, while a transaction that
// never commits must not appear at all.
func TestCrashDuringCommitRecoversCommittedData(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	crash, err := fs.NewCrash(t, real, &fs.CrashConfig{})
	require.NoError(t, err)

	dbPath := filepath.Join(dir, "crash.db")
	logPath := filepath.Join(dir, "crash.log")

	opts := Options{KeySize: 8, ValueSize: 24, BlockSize: 512, SyncOnCommit: true}

	db, err := create(crash, dbPath, logPath, opts)
	require.NoError(t, err)

	for i := uint64(0); i < 20; i++ {
		_, err = db.Insert(crashRecord(i), false)
		require.NoError(t, err)
	}

	// Begin a transaction that never commits; its writes must not survive
	// the crash, since they only ever reach the journal's in-memory tail
	// buffer and no commit record is written for them.
	require.NoError(t, db.Begin())
	_, err = db.Insert(crashRecord(999), false)
	require.NoError(t, err)

	require.NoError(t, crash.SimulateCrash())

	db, err = open(crash, dbPath, logPath, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := uint64(0); i < 20; i++ {
		c, err := db.FindCursor(crashRecord(i)[:8])
		require.NoError(t, err)
		require.True(t, c.Valid(), "committed record %d must survive a simulated crash", i)

		v, err := c.Get()
		require.NoError(t, err)
		require.Equal(t, crashRecord(i), v)
		c.Close()
	}

	c, err := db.FindCursor(crashRecord(999)[:8])
	require.NoError(t, err)
	require.False(t, c.Valid(), "uncommitted record must not survive a simulated crash")
	c.Close()
}

// TestChaosInjectedOpenFailurePropagatesCleanly wires pkg/fs's other
// fault-injection wrapper, Chaos, into the same create/open seam: with
// OpenFailRate pinned at 1.0 (deterministic - Chaos's fault roll is
// "randFloat() < rate" and randFloat never reaches 1.0), every OpenFile call
// the database makes fails, and Open must surface that as a plain error
// instead of panicking.
func TestChaosInjectedOpenFailurePropagatesCleanly(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	dbPath := filepath.Join(dir, "chaos.db")
	logPath := filepath.Join(dir, "chaos.log")

	opts := Options{KeySize: 8, ValueSize: 24, BlockSize: 512}

	db, err := create(real, dbPath, logPath, opts)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	chaos := fs.NewChaos(real, 1, &fs.ChaosConfig{OpenFailRate: 1.0})

	_, err = open(chaos, dbPath, logPath, Options{})
	require.Error(t, err)
}

// TestCrashAfterCheckpointPreservesData confirms the checkpoint path
// (internal/journal.Checkpoint's database-fsync-before-log-truncation
// ordering) is itself crash-safe: a crash immediately after Checkpoint must
// still leave every checkpointed record recoverable.
func TestCrashAfterCheckpointPreservesData(t *testing.T) {
	dir := t.TempDir()
	real := fs.NewReal()

	crash, err := fs.NewCrash(t, real, &fs.CrashConfig{})
	require.NoError(t, err)

	dbPath := filepath.Join(dir, "crash.db")
	logPath := filepath.Join(dir, "crash.log")

	opts := Options{KeySize: 8, ValueSize: 24, BlockSize: 512, SyncOnCommit: true}

	db, err := create(crash, dbPath, logPath, opts)
	require.NoError(t, err)

	for i := uint64(0); i < 10; i++ {
		_, err = db.Insert(crashRecord(i), false)
		require.NoError(t, err)
	}

	require.NoError(t, db.Checkpoint())
	require.NoError(t, crash.SimulateCrash())

	db, err = open(crash, dbPath, logPath, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := uint64(0); i < 10; i++ {
		c, err := db.FindCursor(crashRecord(i)[:8])
		require.NoError(t, err)
		require.True(t, c.Valid(), "checkpointed record %d must survive a simulated crash", i)
		c.Close()
	}
}
