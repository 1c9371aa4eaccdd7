package heap

import (
	"sort"

	"github.com/calvinalkan/pagestore/internal/engine"
)

// chunkRecord is one entry of the chunk index (§3.6): a run of blocks
// obtained from the block allocator, either a pool of cells shared by many
// small objects or a dedicated run for exactly one large object.
type chunkRecord struct {
	start  engine.BlockIndex
	blocks int64
	large  bool
}

func (c chunkRecord) startCell(cellsPerBlock int64) int64 {
	return int64(c.start) * cellsPerBlock
}

func (c chunkRecord) endCell(cellsPerBlock int64) int64 {
	return c.startCell(cellsPerBlock) + c.blocks*cellsPerBlock
}

// sortChunks keeps the chunk index ordered by starting block, which
// chunkFor's binary search over starting cell address relies on.
func sortChunks(chunks []chunkRecord) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].start < chunks[j].start })
}

// chunkFor returns the chunk containing a global cell address, if any.
func (h *Heap) chunkFor(addr int64) (chunkRecord, bool) {
	chunks := h.chunks

	lo, hi := 0, len(chunks)
	for lo < hi {
		mid := (lo + hi) / 2
		if chunks[mid].startCell(h.cellsPerBlock) <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo == 0 {
		return chunkRecord{}, false
	}

	c := chunks[lo-1]
	if addr >= c.startCell(h.cellsPerBlock) && addr < c.endCell(h.cellsPerBlock) {
		return c, true
	}

	return chunkRecord{}, false
}
