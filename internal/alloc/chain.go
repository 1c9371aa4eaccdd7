package alloc

import (
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// ChainBlockCount returns the number of blocks a chain holding a payload of
// payloadLen bytes will occupy, given blockSize. Exposed so a caller that
// needs to allocate chain blocks itself - before it can compute the final
// payload bytes, because the payload embeds that same allocator's
// post-allocation bookkeeping (see [AllocateChain]) - can size the
// allocation first.
func ChainBlockCount(blockSize, payloadLen int) (int, error) {
	dataPerBlock := blockSize - 8
	if dataPerBlock <= 0 {
		return 0, perr.New(perr.ErrBadArgument, "alloc: block size too small for a metadata chain")
	}

	framedLen := 8 + payloadLen

	n := (framedLen + dataPerBlock - 1) / dataPerBlock
	if n == 0 {
		n = 1
	}

	return n, nil
}

// AllocateChain reserves n blocks from nodes for a chain, without writing
// anything to them yet.
func AllocateChain(nodes *NodeAllocator, n int) ([]engine.BlockIndex, error) {
	blocks := make([]engine.BlockIndex, n)

	for i := range blocks {
		idx, err := nodes.Allocate()
		if err != nil {
			return nil, err
		}

		blocks[i] = idx
	}

	return blocks, nil
}

// WriteChainBlocks serializes payload (prefixed with its own length so
// ReadChain can trim trailing block padding) across the given
// already-allocated blocks, linking them with an 8-byte next-pointer at the
// front of each block. len(blocks) must equal
// [ChainBlockCount](eng.BlockSize(), len(payload)).
func WriteChainBlocks(eng *engine.Engine, blocks []engine.BlockIndex, payload []byte) error {
	framed := make([]byte, 8+len(payload))
	codec.PutInt64(framed[:8], int64(len(payload)))
	copy(framed[8:], payload)

	dataPerBlock := eng.BlockSize() - 8

	for i, idx := range blocks {
		h, err := eng.OverwriteZero(idx)
		if err != nil {
			return err
		}

		buf := h.Bytes()

		next := engine.Invalid
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}

		codec.PutUint64(buf[:8], uint64(next))

		start := i * dataPerBlock
		end := min(start+dataPerBlock, len(framed))

		copy(buf[8:], framed[start:end])

		err = eng.MarkDirty(h)
		if err != nil {
			return err
		}

		err = eng.Unpin(h)
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteChain serializes payload across a freshly allocated chain of blocks
// and returns the chain's first block plus every block in it.
//
// Used to persist any structure's metadata as one flat blob without a
// bespoke disk layout of its own - the blob heap's object table/chunk
// index/free list (package heap) goes through this directly. The top-level
// database anchor (pagestore.go) instead calls [ChainBlockCount],
// [AllocateChain], and [WriteChainBlocks] separately, since its payload
// embeds the very node allocator doing the allocating - see pagestore.go's
// persistAnchor.
func WriteChain(eng *engine.Engine, nodes *NodeAllocator, payload []byte) (engine.BlockIndex, []engine.BlockIndex, error) {
	n, err := ChainBlockCount(eng.BlockSize(), len(payload))
	if err != nil {
		return engine.Invalid, nil, err
	}

	blocks, err := AllocateChain(nodes, n)
	if err != nil {
		return engine.Invalid, nil, err
	}

	err = WriteChainBlocks(eng, blocks, payload)
	if err != nil {
		return engine.Invalid, nil, err
	}

	return blocks[0], blocks, nil
}

// ReadChain reads a chain written by WriteChain back into its original
// payload bytes, plus the list of blocks that make up the chain.
func ReadChain(eng *engine.Engine, root engine.BlockIndex) ([]byte, []engine.BlockIndex, error) {
	blockSize := eng.BlockSize()
	dataPerBlock := blockSize - 8

	var (
		blocks []engine.BlockIndex
		framed []byte
	)

	idx := root
	for idx.Valid() {
		h, err := eng.Pin(idx, true)
		if err != nil {
			return nil, nil, err
		}

		buf := h.Bytes()
		next := engine.BlockIndex(codec.GetUint64(buf[:8]))
		framed = append(framed, buf[8:8+dataPerBlock]...)
		blocks = append(blocks, idx)

		err = eng.Unpin(h)
		if err != nil {
			return nil, nil, err
		}

		idx = next
	}

	if len(framed) < 8 {
		return nil, nil, perr.New(perr.ErrCorruption, "alloc: metadata chain shorter than its own length prefix")
	}

	length := codec.GetInt64(framed[:8])
	if length < 0 || 8+length > int64(len(framed)) {
		return nil, nil, perr.New(perr.ErrCorruption, "alloc: metadata chain length prefix out of range")
	}

	return framed[8 : 8+length], blocks, nil
}

// FreeChain releases every block in a chain previously returned by
// WriteChain/ReadChain back to nodes, discarding each from the engine's
// cache.
func FreeChain(eng *engine.Engine, nodes *NodeAllocator, blocks []engine.BlockIndex) error {
	for _, idx := range blocks {
		err := nodes.Free(idx)
		if err != nil {
			return err
		}

		eng.Discard(idx)
	}

	return nil
}
