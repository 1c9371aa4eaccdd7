package journal

import "github.com/calvinalkan/pagestore/internal/perr"

// Checkpoint copies every committed block from the log into the database
// file, truncates the database to the committed size, fsyncs it, then
// truncates the log back to just the header and fsyncs that too (§4.2).
//
// Must not be called inside a transaction. The ordering - database fsync
// before log truncation - is what makes a crash mid-checkpoint safe: the
// idempotent copy is simply redone on the next restore since the log still
// holds the same committed records.
func (j *Journal) Checkpoint() error {
	if j.inTx {
		return perr.New(perr.ErrBadOperation, "journal: checkpoint during transaction")
	}

	buf := make([]byte, j.blockSize)

	for index, payloadOff := range j.committedIndex {
		err := j.readLogPayload(payloadOff, buf)
		if err != nil {
			return err
		}

		_, err = j.db.WriteAt(buf, int64(index)*int64(j.blockSize))
		if err != nil {
			return perr.Wrap(perr.ErrIO, "journal: checkpoint: write database", err)
		}
	}

	err := j.db.Truncate(j.committedSize * int64(j.blockSize))
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: checkpoint: truncate database", err)
	}

	err = j.db.Sync()
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: checkpoint: fsync database", err)
	}

	err = j.log.Truncate(headerSize)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: checkpoint: truncate log", err)
	}

	j.logSize = headerSize
	clear(j.committedIndex)

	err = j.log.Sync()
	if err != nil {
		return perr.Wrap(perr.ErrIO, "journal: checkpoint: fsync log", err)
	}

	return nil
}
