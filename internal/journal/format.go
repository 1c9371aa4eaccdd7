// Package journal implements the write-ahead log described in §4.2: it
// deflects block writes into a separate log file and gives the paging
// engine (package engine) atomicity and durability via begin/write/commit
// records and a checkpoint that folds the log back into the database file.
//
// Grounded on the teacher's own write-ahead-log shaped code (pkg/slotcache's
// segment/manifest durability sequencing and pkg/fs's AtomicWriter
// temp-file-then-rename pattern for "never leave a half-written artifact")
// and on original_source/'s journal.cpp for exact record/header semantics.
package journal

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// magic identifies a pagestore journal file.
var magic = [8]byte{'P', 'Q', 'S', 'T', 'J', 'R', 'N', 'L'}

const formatVersion uint32 = 1

// headerSize is the fixed on-disk size of the log header: magic(8) +
// version(4) + block size(4).
const headerSize = 8 + 4 + 4

// Record tags (§4.2).
const (
	tagBegin  byte = 1
	tagAbort  byte = 2
	tagCommit byte = 3
	tagWrite  byte = 4
)

// commitRecordSize is tag(1) + new database size in blocks(8).
const commitRecordSize = 1 + 8

// writeRecordHeaderSize is tag(1) + block index(8) + xxhash64 checksum of
// the payload(8); the block's payload follows immediately after. The
// checksum tightens restore's "complete record" test from "enough bytes are
// present" to "enough bytes are present and they hash to what was appended",
// catching a record whose payload landed on disk but was scribbled over by
// an unrelated later write to the same log offsets (e.g. a reused, not
// zeroed, block device).
const writeRecordHeaderSize = 1 + 8 + 8

func encodeHeader(blockSize int) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	binary.BigEndian.PutUint32(buf[8:12], formatVersion)
	codec.PutUint32(buf[12:16], uint32(blockSize))

	return buf
}

// checksumPayload returns the xxhash64 digest stored in a write record's
// checksum field.
func checksumPayload(payload []byte) uint64 { return xxhash.Sum64(payload) }

// PeekBlockSize reads just enough of an existing log file to report the
// block size it was created with, without constructing a [Journal]. Callers
// that don't yet know the database's block size (the top-level facade on
// [Open], before it can call journal.Open at all) use this to discover it
// first.
func PeekBlockSize(log interface {
	ReadAt(p []byte, off int64) (int, error)
}) (int, error) {
	buf := make([]byte, headerSize)

	_, err := log.ReadAt(buf, 0)
	if err != nil {
		return 0, perr.Wrap(perr.ErrIO, "journal: peek block size", err)
	}

	return decodeHeader(buf)
}

func decodeHeader(buf []byte) (blockSize int, err error) {
	if len(buf) < headerSize {
		return 0, perr.New(perr.ErrCorruption, "journal: truncated header")
	}

	if string(buf[0:8]) != string(magic[:]) {
		return 0, perr.New(perr.ErrCorruption, "journal: bad magic")
	}

	version := binary.BigEndian.Uint32(buf[8:12])
	if version != formatVersion {
		return 0, perr.New(perr.ErrUnsupported, "journal: unsupported format version")
	}

	return int(codec.GetUint32(buf[12:16])), nil
}
