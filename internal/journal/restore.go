package journal

import (
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// restore replays the log from the header forward (§4.2 "Restore"),
// applying every transaction whose records are complete and stopping at the
// first partial or unrecognized record. The log is then truncated to the
// last valid boundary, discarding any trailing partial transaction - this is
// what makes a crash mid-write equivalent to a rollback.
func (j *Journal) restore(logFileSize int64) error {
	hdrBuf := make([]byte, headerSize)

	_, err := j.log.ReadAt(hdrBuf, 0)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: read header", err)
	}

	blockSize, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}

	if blockSize != j.blockSize {
		return perr.New(perr.ErrCorruption, "journal: log block size does not match database")
	}

	offset := int64(headerSize)
	lastValidBoundary := offset

	pending := make(map[engine.BlockIndex]int64)

	for offset < logFileSize {
		tag, ok := j.readByte(offset, logFileSize)
		if !ok {
			break
		}

		switch tag {
		case tagBegin:
			pending = make(map[engine.BlockIndex]int64)
			offset++

		case tagAbort:
			pending = make(map[engine.BlockIndex]int64)
			offset++
			lastValidBoundary = offset

		case tagWrite:
			if offset+writeRecordHeaderSize+int64(j.blockSize) > logFileSize {
				offset = logFileSize // partial record, stop below

				break
			}

			idxBuf := make([]byte, 8)

			_, err = j.log.ReadAt(idxBuf, offset+1)
			if err != nil {
				return perr.Wrap(perr.ErrIO, "journal: restore: read block index", err)
			}

			sumBuf := make([]byte, 8)

			_, err = j.log.ReadAt(sumBuf, offset+1+8)
			if err != nil {
				return perr.Wrap(perr.ErrIO, "journal: restore: read checksum", err)
			}

			payloadOff := offset + writeRecordHeaderSize

			payload := make([]byte, j.blockSize)

			_, err = j.log.ReadAt(payload, payloadOff)
			if err != nil {
				return perr.Wrap(perr.ErrIO, "journal: restore: read payload", err)
			}

			if checksumPayload(payload) != codec.GetUint64(sumBuf) {
				// Bytes are present but don't hash to what was appended:
				// not a complete record (§4.2 tightened definition). Treat
				// the rest of the log as an incomplete trailing
				// transaction, same as running out of bytes.
				offset = logFileSize

				break
			}

			index := engine.BlockIndex(codec.GetUint64(idxBuf))
			pending[index] = payloadOff
			offset += writeRecordHeaderSize + int64(j.blockSize)

		case tagCommit:
			if offset+commitRecordSize > logFileSize {
				offset = logFileSize

				break
			}

			sizeBuf := make([]byte, 8)

			_, err = j.log.ReadAt(sizeBuf, offset+1)
			if err != nil {
				return perr.Wrap(perr.ErrIO, "journal: restore: read commit size", err)
			}

			newSize := int64(codec.GetUint64(sizeBuf))

			for idx, payloadOff := range pending {
				j.committedIndex[idx] = payloadOff
			}

			for idx := range j.committedIndex {
				if int64(idx) >= newSize {
					delete(j.committedIndex, idx)
				}
			}

			j.committedSize = newSize
			pending = make(map[engine.BlockIndex]int64)

			offset += commitRecordSize
			lastValidBoundary = offset

		default:
			offset = logFileSize // unrecognized tag: treat the rest as garbage
		}
	}

	j.logSize = lastValidBoundary

	return j.log.Truncate(j.logSize)
}

func (j *Journal) readByte(offset, limit int64) (byte, bool) {
	if offset >= limit {
		return 0, false
	}

	var buf [1]byte

	_, err := j.log.ReadAt(buf[:], offset)
	if err != nil {
		return 0, false
	}

	return buf[0], true
}
