package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
	"github.com/calvinalkan/pagestore/pkg/fs"
)

// Options configures a [Journal].
type Options struct {
	// BlockSize is the database's fixed block size in bytes.
	BlockSize int

	// SyncOnCommit fsyncs the log after every commit. Disabling this
	// weakens durability (a commit can be lost on crash) but never
	// integrity (§4.2): a lost commit is indistinguishable from a crash
	// just before it, which replay treats as a clean rollback.
	SyncOnCommit bool
}

// Journal is the write-ahead log of §4.2. It implements
// [engine.BlockSource], so an *engine.Engine can run directly on top of it:
// reads are served from the uncommitted transaction, then the committed log,
// then the database file; writes go to the log instead of the database file
// until a checkpoint folds them back in.
//
// Not safe for concurrent use, matching the paging engine it sits under.
type Journal struct {
	db  fs.File
	log fs.File

	blockSize    int
	syncOnCommit bool

	logSize int64        // on-disk size of the log file; append position
	buf     bytes.Buffer // unflushed tail of appended log bytes

	committedIndex map[engine.BlockIndex]int64 // block -> payload offset in log
	committedSize  int64                       // database size in blocks as of last commit

	uncommittedIndex map[engine.BlockIndex]int64
	inTx             bool
	txBegun          bool  // whether a begin record has been appended for the current tx
	txStartOffset    int64 // log offset of the tx's begin tag, for rollback

	pendingSize    int64 // database size requested via Truncate during the current tx
	pendingSizeSet bool
}

// Open opens (or initializes) the journal backed by db and log. dbSizeBlocks
// is the database file's current size in blocks, used as the initial
// committed size when the log is empty.
func Open(db, log fs.File, dbSizeBlocks int64, opts Options) (*Journal, error) {
	if opts.BlockSize <= 0 {
		return nil, perr.New(perr.ErrBadArgument, "journal: block size must be > 0")
	}

	info, err := log.Stat()
	if err != nil {
		return nil, perr.Wrap(perr.ErrIO, "journal: stat log", err)
	}

	j := &Journal{
		db:               db,
		log:              log,
		blockSize:        opts.BlockSize,
		syncOnCommit:     opts.SyncOnCommit,
		committedIndex:   make(map[engine.BlockIndex]int64),
		uncommittedIndex: make(map[engine.BlockIndex]int64),
		committedSize:    dbSizeBlocks,
	}

	if info.Size() == 0 {
		err = j.writeHeader()
		if err != nil {
			return nil, err
		}

		return j, nil
	}

	err = j.restore(info.Size())
	if err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) writeHeader() error {
	hdr := encodeHeader(j.blockSize)

	_, err := j.log.WriteAt(hdr, 0)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: write header", err)
	}

	j.logSize = headerSize

	return nil
}

// InTransaction reports whether a transaction is currently open.
func (j *Journal) InTransaction() bool { return j.inTx }

// Begin starts a new transaction. The begin record is not written until the
// first block write (§4.2 "lazily appends").
func (j *Journal) Begin() error {
	if j.inTx {
		return perr.New(perr.ErrBadOperation, "journal: transaction already open")
	}

	j.inTx = true
	j.txBegun = false
	j.txStartOffset = j.logSize + int64(j.buf.Len())
	clear(j.uncommittedIndex)

	return nil
}

func (j *Journal) ensureBegun() {
	if j.txBegun {
		return
	}

	j.buf.WriteByte(tagBegin)
	j.txBegun = true
}

// ReadBlock implements [engine.BlockSource]. It is valid to call outside a
// transaction (serving committed data) as well as inside one.
func (j *Journal) ReadBlock(index engine.BlockIndex, dst []byte) error {
	if j.inTx {
		if off, ok := j.uncommittedIndex[index]; ok {
			return j.readLogPayload(off, dst)
		}
	}

	if off, ok := j.committedIndex[index]; ok {
		return j.readLogPayload(off, dst)
	}

	if int64(index) >= j.committedSize {
		clear(dst)

		return nil
	}

	// A block inside the committed size may lie past the end of the
	// database file (never checkpointed); the missing bytes read as zero.
	n, err := j.db.ReadAt(dst, int64(index)*int64(j.blockSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return perr.Wrap(perr.ErrIO, fmt.Sprintf("journal: read database block %d", index), err)
	}

	clear(dst[n:])

	return nil
}

// readLogPayload reads a block payload starting at log offset off, which may
// still be sitting in the unflushed tail buffer.
func (j *Journal) readLogPayload(off int64, dst []byte) error {
	if off >= j.logSize {
		n := copy(dst, j.buf.Bytes()[off-j.logSize:])
		if n != len(dst) {
			return perr.New(perr.ErrCorruption, "journal: short read from log buffer")
		}

		return nil
	}

	if off+int64(len(dst)) <= j.logSize {
		_, err := j.log.ReadAt(dst, off)
		if err != nil {
			return perr.Wrap(perr.ErrIO, "journal: read log", err)
		}

		return nil
	}

	// Spans the flushed/unflushed boundary.
	onDisk := j.logSize - off

	_, err := j.log.ReadAt(dst[:onDisk], off)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: read log", err)
	}

	copy(dst[onDisk:], j.buf.Bytes())

	return nil
}

// WriteBlock implements [engine.BlockSource]. Must be called inside a
// transaction.
func (j *Journal) WriteBlock(index engine.BlockIndex, src []byte) error {
	if !j.inTx {
		return perr.New(perr.ErrBadOperation, "journal: write outside transaction")
	}

	if len(src) != j.blockSize {
		return perr.New(perr.ErrBadArgument, "journal: write block: bad payload size")
	}

	j.ensureBegun()

	if off, ok := j.uncommittedIndex[index]; ok {
		return j.overwriteLogPayload(off, src)
	}

	j.buf.WriteByte(tagWrite)

	var idxBuf [8]byte
	codec.PutUint64(idxBuf[:], uint64(index))
	j.buf.Write(idxBuf[:])

	var sumBuf [8]byte
	codec.PutUint64(sumBuf[:], checksumPayload(src))
	j.buf.Write(sumBuf[:])

	payloadOff := j.logSize + int64(j.buf.Len())
	j.buf.Write(src)

	j.uncommittedIndex[index] = payloadOff

	return nil
}

// overwriteLogPayload rewrites a payload already appended for this
// transaction, in place (§4.2 "overwrite in-place in the log"), along with
// its checksum field immediately preceding it.
func (j *Journal) overwriteLogPayload(off int64, src []byte) error {
	var sumBuf [8]byte
	codec.PutUint64(sumBuf[:], checksumPayload(src))

	err := j.patchLogBytes(off-8, sumBuf[:])
	if err != nil {
		return err
	}

	return j.patchLogBytes(off, src)
}

// patchLogBytes overwrites data already appended to the log (flushed or
// still sitting in the unflushed tail buffer) in place, splitting the write
// across the flushed/unflushed boundary if necessary.
func (j *Journal) patchLogBytes(off int64, data []byte) error {
	if off >= j.logSize {
		copy(j.buf.Bytes()[off-j.logSize:], data)

		return nil
	}

	if off+int64(len(data)) <= j.logSize {
		_, err := j.log.WriteAt(data, off)
		if err != nil {
			return perr.Wrap(perr.ErrIO, "journal: overwrite log", err)
		}

		return nil
	}

	onDisk := j.logSize - off

	_, err := j.log.WriteAt(data[:onDisk], off)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: overwrite log", err)
	}

	copy(j.buf.Bytes(), data[onDisk:])

	return nil
}

// Truncate implements [engine.BlockSource]. Only valid inside a transaction;
// records the new size, applied at commit time (§4.2, commit record).
func (j *Journal) Truncate(sizeBlocks int64) error {
	if !j.inTx {
		return perr.New(perr.ErrBadOperation, "journal: truncate outside transaction")
	}

	j.pendingSize = sizeBlocks
	j.pendingSizeSet = true

	return nil
}

// flush writes the unflushed tail buffer to the log file.
func (j *Journal) flush() error {
	if j.buf.Len() == 0 {
		return nil
	}

	_, err := j.log.WriteAt(j.buf.Bytes(), j.logSize)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: flush log", err)
	}

	j.logSize += int64(j.buf.Len())
	j.buf.Reset()

	return nil
}

// Commit appends a commit record, flushes the log, optionally fsyncs it, and
// on success merges the transaction's writes into the committed index
// (§4.2).
func (j *Journal) Commit() error {
	if !j.inTx {
		return perr.New(perr.ErrBadOperation, "journal: commit outside transaction")
	}

	newSize := j.committedSize
	if j.pendingSizeSet {
		newSize = j.pendingSize
	}

	if j.txBegun {
		j.buf.WriteByte(tagCommit)

		var sizeBuf [8]byte
		codec.PutUint64(sizeBuf[:], uint64(newSize))
		j.buf.Write(sizeBuf[:])

		err := j.flush()
		if err != nil {
			return err
		}

		if j.syncOnCommit {
			err = j.log.Sync()
			if err != nil {
				return perr.Wrap(perr.ErrIO, "journal: fsync log", err)
			}
		}

		for idx, off := range j.uncommittedIndex {
			j.committedIndex[idx] = off
		}
	}

	j.committedSize = newSize

	for idx := range j.committedIndex {
		if int64(idx) >= newSize {
			delete(j.committedIndex, idx)
		}
	}

	j.endTransaction()

	return nil
}

// Rollback discards the current transaction's writes, truncating the log
// back to the point the transaction began, and returns the set of block
// indices the caller must discard from the paging engine's cache so reads
// refresh from the journal/database (§4.2).
func (j *Journal) Rollback() []engine.BlockIndex {
	touched := make([]engine.BlockIndex, 0, len(j.uncommittedIndex))
	for idx := range j.uncommittedIndex {
		touched = append(touched, idx)
	}

	if j.txBegun {
		if j.txStartOffset < j.logSize {
			err := j.log.Truncate(j.txStartOffset)
			if err == nil {
				j.logSize = j.txStartOffset
			} else {
				// Can't shrink the log (e.g. a filesystem that disallows
				// truncate mid-write); append an explicit abort record
				// instead so restore skips this transaction on replay.
				j.buf.WriteByte(tagAbort)
				_ = j.flush()
			}
		} else {
			j.buf.Reset()
		}
	}

	j.endTransaction()

	return touched
}

func (j *Journal) endTransaction() {
	j.inTx = false
	j.txBegun = false
	j.pendingSize = 0
	j.pendingSizeSet = false
	clear(j.uncommittedIndex)
}

// CommittedSize returns the database size, in blocks, as of the last commit
// (or the size observed at Open, if nothing has committed since).
func (j *Journal) CommittedSize() int64 { return j.committedSize }
