package pagestore

import (
	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
)

// anchorFormatDescriptor content-addresses the layout encodeAnchor/decodeAnchor
// agree on, per §6.3's get_binary_format requirement: two opens of the same
// file must agree on the shape of everything reachable from block 0.
var anchorFormatDescriptor = codec.NewFormatBuilder("pagestore.anchor").
	Field("keySize", 4).
	Field("valueSize", 4).
	Field("btreeRoot", 8).
	Field("heapRoot", 8).
	Field("dataTotal", 8).
	Field("dataUsed", 8).
	Field("nodeBump", 8).
	Field("nodeCap", 8).
	Field("nodeUsed", 8).
	Sum()

// anchor is the database's top-level persistent state: everything needed to
// reconstruct the btree, heap, and both allocators on [Open]. It is
// flattened to bytes and rewritten wholesale through a block chain (see
// internal/alloc.WriteChain), the same strategy internal/heap uses for its
// own anchor.
type anchor struct {
	keySize   int32
	valueSize int32

	btreeRoot engine.BlockIndex
	heapRoot  engine.BlockIndex

	data  alloc.State
	nodes alloc.NodeAllocatorState
}

func encodeAnchor(a anchor) []byte {
	size := 4 + 4 + 8 + 8 +
		8 + 8 + 4 + len(a.data.Free)*16 +
		8 + 8 + 8 + 4 + len(a.nodes.Free)*8

	buf := make([]byte, size)
	off := 0

	codec.PutInt32(buf[off:off+4], a.keySize)
	off += 4
	codec.PutInt32(buf[off:off+4], a.valueSize)
	off += 4
	codec.PutUint64(buf[off:off+8], uint64(a.btreeRoot))
	off += 8
	codec.PutUint64(buf[off:off+8], uint64(a.heapRoot))
	off += 8

	codec.PutInt64(buf[off:off+8], a.data.Total)
	off += 8
	codec.PutInt64(buf[off:off+8], a.data.Used)
	off += 8
	codec.PutUint32(buf[off:off+4], uint32(len(a.data.Free)))
	off += 4

	for _, e := range a.data.Free {
		codec.PutUint64(buf[off:off+8], uint64(e.Start))
		off += 8
		codec.PutInt64(buf[off:off+8], e.N)
		off += 8
	}

	codec.PutUint64(buf[off:off+8], uint64(a.nodes.Bump))
	off += 8
	codec.PutInt64(buf[off:off+8], a.nodes.Cap)
	off += 8
	codec.PutInt64(buf[off:off+8], a.nodes.Used)
	off += 8
	codec.PutUint32(buf[off:off+4], uint32(len(a.nodes.Free)))
	off += 4

	for _, idx := range a.nodes.Free {
		codec.PutUint64(buf[off:off+8], uint64(idx))
		off += 8
	}

	return buf
}

func decodeAnchor(buf []byte) anchor {
	var a anchor

	off := 0

	a.keySize = codec.GetInt32(buf[off : off+4])
	off += 4
	a.valueSize = codec.GetInt32(buf[off : off+4])
	off += 4
	a.btreeRoot = engine.BlockIndex(codec.GetUint64(buf[off : off+8]))
	off += 8
	a.heapRoot = engine.BlockIndex(codec.GetUint64(buf[off : off+8]))
	off += 8

	a.data.Total = codec.GetInt64(buf[off : off+8])
	off += 8
	a.data.Used = codec.GetInt64(buf[off : off+8])
	off += 8

	freeCount := int(codec.GetUint32(buf[off : off+4]))
	off += 4

	a.data.Free = make([]alloc.FreeExtent, freeCount)
	for i := range a.data.Free {
		start := engine.BlockIndex(codec.GetUint64(buf[off : off+8]))
		off += 8
		n := codec.GetInt64(buf[off : off+8])
		off += 8

		a.data.Free[i] = alloc.FreeExtent{Start: start, N: n}
	}

	a.nodes.Bump = engine.BlockIndex(codec.GetUint64(buf[off : off+8]))
	off += 8
	a.nodes.Cap = codec.GetInt64(buf[off : off+8])
	off += 8
	a.nodes.Used = codec.GetInt64(buf[off : off+8])
	off += 8

	nodeFreeCount := int(codec.GetUint32(buf[off : off+4]))
	off += 4

	a.nodes.Free = make([]engine.BlockIndex, nodeFreeCount)
	for i := range a.nodes.Free {
		a.nodes.Free[i] = engine.BlockIndex(codec.GetUint64(buf[off : off+8]))
		off += 8
	}

	return a
}
