package heap

import (
	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// defaultMaxSmallObjectCells and defaultChunkSizeBlocks pick a small-object
// threshold and chunk growth step that satisfy §3.6's invariant that small
// objects are allocated from chunks of at least 4x the max small object
// size.
const (
	defaultMaxSmallObjectCells = 256
	defaultChunkSizeBlocks     = 4
)

// Options configures a [Heap]. The zero value is replaced with the defaults
// above.
type Options struct {
	// MaxSmallObjectCells is the largest object, in cells, handled by the
	// segregated free list; anything bigger gets a dedicated chunk.
	MaxSmallObjectCells int64

	// ChunkSizeBlocks is how many blocks a fresh small-object chunk spans.
	ChunkSizeBlocks int64
}

func (o Options) withDefaults() Options {
	if o.MaxSmallObjectCells <= 0 {
		o.MaxSmallObjectCells = defaultMaxSmallObjectCells
	}

	if o.ChunkSizeBlocks <= 0 {
		o.ChunkSizeBlocks = defaultChunkSizeBlocks
	}

	return o
}

// Heap is the blob store of §4.5.
//
// Not safe for concurrent use.
type Heap struct {
	eng   *engine.Engine
	nodes *alloc.NodeAllocator // metadata chain blocks
	data  *alloc.Allocator     // small/large object chunks

	cellsPerBlock       int64
	maxSmallObjectCells int64
	chunkSizeBlocks     int64

	table *objectTable
	chunks []chunkRecord
	free  *segregatedFreeList

	types map[TypeIndex]registeredType

	root   engine.BlockIndex
	blocks []engine.BlockIndex

	inCollection bool
}

// Create allocates a brand new, empty heap and persists its initial anchor.
// nodes backs the metadata chain (see io.go); data backs object chunks.
func Create(eng *engine.Engine, nodes *alloc.NodeAllocator, data *alloc.Allocator, opts Options) (*Heap, error) {
	opts = opts.withDefaults()

	h := &Heap{
		eng:                 eng,
		nodes:               nodes,
		data:                data,
		cellsPerBlock:       int64(eng.BlockSize()) / cellSize,
		maxSmallObjectCells: opts.MaxSmallObjectCells,
		chunkSizeBlocks:     opts.ChunkSizeBlocks,
		table:               newObjectTable(),
		free:                newSegregatedFreeList(),
		types:               make(map[TypeIndex]registeredType),
		root:                engine.Invalid,
	}

	if h.cellsPerBlock < 1 {
		return nil, perr.New(perr.ErrBadArgument, "heap: block size too small for a single cell")
	}

	minChunkBlocks := ceilDiv64(4*opts.MaxSmallObjectCells, h.cellsPerBlock)
	if h.chunkSizeBlocks < minChunkBlocks {
		h.chunkSizeBlocks = minChunkBlocks
	}

	err := h.persist()
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Open resumes a heap whose anchor chain starts at root.
func Open(eng *engine.Engine, nodes *alloc.NodeAllocator, data *alloc.Allocator, root engine.BlockIndex) (*Heap, error) {
	payload, blocks, err := alloc.ReadChain(eng, root)
	if err != nil {
		return nil, err
	}

	a := decodeAnchor(payload)

	h := &Heap{
		eng:                 eng,
		nodes:               nodes,
		data:                data,
		cellsPerBlock:       a.cellsPerBlock,
		maxSmallObjectCells: a.maxSmallObjectCells,
		chunkSizeBlocks:     a.chunkSizeBlocks,
		table:               &objectTable{slots: a.slots, freeHead: a.tableFreeHead},
		chunks:              a.chunks,
		free:                newSegregatedFreeList(),
		types:               make(map[TypeIndex]registeredType),
		root:                root,
		blocks:              blocks,
	}

	for _, r := range a.freeRuns {
		h.free.insert(r.addr, r.len)
	}

	return h, nil
}

// Root returns the current first block of the heap's metadata chain, for
// the caller to persist alongside the tree root and other top-level
// anchors.
func (h *Heap) Root() engine.BlockIndex { return h.root }

// RegisterType registers one object type and its child visitor (§4.5.5).
// Must be called again after every [Open] - types are runtime registrations,
// not persisted state.
func (h *Heap) RegisterType(info TypeInfo, visitor ChildVisitor) error {
	if _, exists := h.types[info.Index]; exists {
		return perr.New(perr.ErrBadArgument, "heap: register type: index already registered")
	}

	h.types[info.Index] = registeredType{info: info, visitor: visitor}

	return nil
}

func (h *Heap) persist() error {
	a := anchor{
		cellsPerBlock:       h.cellsPerBlock,
		maxSmallObjectCells: h.maxSmallObjectCells,
		chunkSizeBlocks:     h.chunkSizeBlocks,
		tableFreeHead:       h.table.freeHead,
		slots:               h.table.slots,
		chunks:              h.chunks,
		freeRuns:            h.free.allRuns(),
	}

	newRoot, newBlocks, err := alloc.WriteChain(h.eng, h.nodes, encodeAnchor(a))
	if err != nil {
		return err
	}

	oldBlocks := h.blocks

	h.root = newRoot
	h.blocks = newBlocks

	if oldBlocks != nil {
		return alloc.FreeChain(h.eng, h.nodes, oldBlocks)
	}

	return nil
}

func (h *Heap) readObject(ref Reference, sl slot) ([]byte, TypeIndex, error) {
	total := headerSize + int(sl.size)

	buf, err := readAt(h.eng, sl.addr*cellSize, total)
	if err != nil {
		return nil, 0, err
	}

	typeIdx := TypeIndex(codec.GetUint32(buf[0:4]))
	slotIdx := codec.GetUint32(buf[4:8])

	if slotIdx != uint32(ref) {
		return nil, 0, perr.New(perr.ErrCorruption, "heap: object header slot index does not match reference")
	}

	return buf[headerSize:], typeIdx, nil
}

func (h *Heap) growSmallChunk() error {
	n := h.chunkSizeBlocks

	start, err := h.data.Allocate(n)
	if err != nil {
		return err
	}

	for i := int64(0); i < n; i++ {
		hd, err := h.eng.OverwriteZero(start + engine.BlockIndex(i))
		if err != nil {
			return err
		}

		err = h.eng.MarkDirty(hd)
		if err != nil {
			return err
		}

		err = h.eng.Unpin(hd)
		if err != nil {
			return err
		}
	}

	h.chunks = append(h.chunks, chunkRecord{start: start, blocks: n, large: false})
	sortChunks(h.chunks)

	h.free.insert(int64(start)*h.cellsPerBlock, n*h.cellsPerBlock)

	return nil
}

func (h *Heap) allocateSmall(cells int64) (int64, error) {
	addr, ok := h.free.take(cells)
	if ok {
		return addr, nil
	}

	err := h.growSmallChunk()
	if err != nil {
		return 0, err
	}

	addr, ok = h.free.take(cells)
	if !ok {
		return 0, perr.New(perr.ErrCorruption, "heap: freshly grown chunk could not satisfy its own allocation")
	}

	return addr, nil
}

func (h *Heap) allocateLarge(cells int64) (int64, error) {
	blocks := ceilDiv64(cells, h.cellsPerBlock)

	start, err := h.data.Allocate(blocks)
	if err != nil {
		return 0, err
	}

	h.chunks = append(h.chunks, chunkRecord{start: start, blocks: blocks, large: true})
	sortChunks(h.chunks)

	return int64(start) * h.cellsPerBlock, nil
}
