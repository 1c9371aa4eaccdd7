package alloc

import "github.com/calvinalkan/pagestore/internal/engine"

// Pinner is the subset of *engine.Engine a Stream needs to materialize new
// blocks as it writes.
type Pinner interface {
	OverwriteZero(index engine.BlockIndex) (*engine.Handle, error)
	MarkDirty(h *engine.Handle) error
	Unpin(h *engine.Handle) error
}

// Stream writes a sequence of bytes across a run of blocks the caller
// supplies one at a time, so the caller doesn't have to hand-track byte
// offsets within and across blocks (SUPPLEMENTED FEATURES, grounded on
// original_source/stream_test.cpp). Heap object payloads and the top-level
// database anchor use the next-pointer-chained format in chain.go instead,
// since both need the block order recoverable from the blocks themselves
// rather than supplied externally; Stream remains the right fit for a
// caller that already knows its block run up front, e.g. writing a value
// across newly-grown, necessarily-contiguous extent blocks.
type Stream struct {
	pinner    Pinner
	blockSize int

	cur    *engine.Handle
	offset int // write offset within cur, 0 when no block is pinned
}

// NewStream starts a stream writing into the blocks backing handles from
// pinner.
func NewStream(pinner Pinner, blockSize int) *Stream {
	return &Stream{pinner: pinner, blockSize: blockSize}
}

// WriteBlock appends p to the stream, using next (which must not yet be in
// use) as its next block once the current one fills up, or immediately if
// the stream has no current block. Returns the number of bytes consumed
// into the current block; the caller supplies a fresh `next` index and
// calls again if the return value is less than len(p).
func (s *Stream) WriteBlock(next engine.BlockIndex, p []byte) (int, error) {
	if s.cur == nil {
		h, err := s.pinner.OverwriteZero(next)
		if err != nil {
			return 0, err
		}

		s.cur = h
		s.offset = 0
	}

	room := s.blockSize - s.offset
	n := min(room, len(p))

	copy(s.cur.Bytes()[s.offset:], p[:n])
	s.offset += n

	err := s.pinner.MarkDirty(s.cur)
	if err != nil {
		return n, err
	}

	if s.offset == s.blockSize {
		err = s.pinner.Unpin(s.cur)
		s.cur = nil
		s.offset = 0

		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// Close releases the current block, if any, without requiring it to be
// full.
func (s *Stream) Close() error {
	if s.cur == nil {
		return nil
	}

	h := s.cur
	s.cur = nil
	s.offset = 0

	return s.pinner.Unpin(h)
}
