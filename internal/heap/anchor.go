package heap

import (
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
)

// anchor is the heap's full persistent state, flattened to bytes and
// rewritten as a whole on every mutation (see DESIGN.md: a real
// implementation would keep the object table directly disk-resident and
// slot-addressable, trading this implementation's simplicity for O(1)
// rather than O(total metadata) updates).
type anchor struct {
	cellsPerBlock       int64
	maxSmallObjectCells int64
	chunkSizeBlocks     int64

	tableFreeHead int64
	slots         []slot

	chunks []chunkRecord

	freeRuns []freeRun
}

const (
	slotRecordSize  = 1 + 8 + 8 // live flag, addr, size-or-next
	chunkRecordSize = 8 + 8 + 1 // start, blocks, large flag
	freeRunSize     = 8 + 8     // addr, len
)

func encodeAnchor(a anchor) []byte {
	size := 8*3 + 8 + 4 + len(a.slots)*slotRecordSize + 4 + len(a.chunks)*chunkRecordSize + 4 + len(a.freeRuns)*freeRunSize
	buf := make([]byte, size)
	off := 0

	codec.PutInt64(buf[off:off+8], a.cellsPerBlock)
	off += 8
	codec.PutInt64(buf[off:off+8], a.maxSmallObjectCells)
	off += 8
	codec.PutInt64(buf[off:off+8], a.chunkSizeBlocks)
	off += 8
	codec.PutInt64(buf[off:off+8], a.tableFreeHead)
	off += 8

	codec.PutUint32(buf[off:off+4], uint32(len(a.slots)))
	off += 4

	for _, s := range a.slots {
		codec.PutBool(buf[off:off+1], s.live)
		off++
		codec.PutInt64(buf[off:off+8], s.addr)
		off += 8

		if s.live {
			codec.PutInt64(buf[off:off+8], int64(s.size))
		} else {
			codec.PutInt64(buf[off:off+8], s.next)
		}

		off += 8
	}

	codec.PutUint32(buf[off:off+4], uint32(len(a.chunks)))
	off += 4

	for _, c := range a.chunks {
		codec.PutInt64(buf[off:off+8], int64(c.start))
		off += 8
		codec.PutInt64(buf[off:off+8], c.blocks)
		off += 8
		codec.PutBool(buf[off:off+1], c.large)
		off++
	}

	codec.PutUint32(buf[off:off+4], uint32(len(a.freeRuns)))
	off += 4

	for _, r := range a.freeRuns {
		codec.PutInt64(buf[off:off+8], r.addr)
		off += 8
		codec.PutInt64(buf[off:off+8], r.len)
		off += 8
	}

	return buf
}

func decodeAnchor(buf []byte) anchor {
	var a anchor

	off := 0

	a.cellsPerBlock = codec.GetInt64(buf[off : off+8])
	off += 8
	a.maxSmallObjectCells = codec.GetInt64(buf[off : off+8])
	off += 8
	a.chunkSizeBlocks = codec.GetInt64(buf[off : off+8])
	off += 8
	a.tableFreeHead = codec.GetInt64(buf[off : off+8])
	off += 8

	slotCount := int(codec.GetUint32(buf[off : off+4]))
	off += 4

	a.slots = make([]slot, slotCount)
	for i := range a.slots {
		live := codec.GetBool(buf[off : off+1])
		off++
		addr := codec.GetInt64(buf[off : off+8])
		off += 8
		second := codec.GetInt64(buf[off : off+8])
		off += 8

		if live {
			a.slots[i] = slot{live: true, addr: addr, size: uint32(second)}
		} else {
			a.slots[i] = slot{live: false, next: second}
		}
	}

	chunkCount := int(codec.GetUint32(buf[off : off+4]))
	off += 4

	a.chunks = make([]chunkRecord, chunkCount)
	for i := range a.chunks {
		start := codec.GetInt64(buf[off : off+8])
		off += 8
		blocks := codec.GetInt64(buf[off : off+8])
		off += 8
		large := codec.GetBool(buf[off : off+1])
		off++

		a.chunks[i] = chunkRecord{start: engine.BlockIndex(start), blocks: blocks, large: large}
	}

	runCount := int(codec.GetUint32(buf[off : off+4]))
	off += 4

	a.freeRuns = make([]freeRun, runCount)
	for i := range a.freeRuns {
		addr := codec.GetInt64(buf[off : off+8])
		off += 8
		length := codec.GetInt64(buf[off : off+8])
		off += 8

		a.freeRuns[i] = freeRun{addr: addr, len: length}
	}

	return a
}
