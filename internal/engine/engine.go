package engine

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/calvinalkan/pagestore/internal/perr"
)

// Options configures an [Engine]. The zero value is not usable; construct
// with reasonable defaults the way pager.Options/slotcache.Options do in the
// retrieval pack, then override only what matters to the caller.
type Options struct {
	// BlockSize is the fixed block size in bytes. Required, must be > 0.
	BlockSize int

	// MaxCachedBlocks bounds the number of blocks (pinned + unpinned-cached)
	// the engine keeps in memory before evicting LRU victims. Required,
	// must be >= 1.
	MaxCachedBlocks int

	// ReadOnly rejects MarkDirty with [perr.ErrReadOnly].
	ReadOnly bool
}

func (o Options) validate() error {
	if o.BlockSize <= 0 {
		return perr.New(perr.ErrBadArgument, "block size must be > 0")
	}

	if o.MaxCachedBlocks < 1 {
		return perr.New(perr.ErrBadArgument, "max cached blocks must be >= 1")
	}

	return nil
}

// cacheEntry backs one resident block. lruElem is nil while the block is
// pinned (§4.1 state machine: a pinned block is never in the LRU list).
type cacheEntry struct {
	index    BlockIndex
	buf      []byte
	pinCount int
	dirty    bool
	lruElem  *list.Element
}

// Handle is a live, pinned view of a block's buffer (§3.1). Holding a handle
// prevents eviction; [Engine.Unpin] releases it.
type Handle struct {
	engine *Engine
	entry  *cacheEntry
}

// Index returns the block this handle pins.
func (h *Handle) Index() BlockIndex { return h.entry.index }

// Bytes returns the block's in-memory buffer. The slice is owned by the
// engine and is only valid until the handle is unpinned.
func (h *Handle) Bytes() []byte { return h.entry.buf }

// Engine is the paging engine described in §4.1: it maps a file to fixed
// size blocks, caches them under an LRU policy bounded by
// Options.MaxCachedBlocks, and tracks which blocks are dirty.
//
// Not safe for concurrent use (§5): all operations are single-threaded.
type Engine struct {
	source    BlockSource
	blockSize int
	readOnly  bool
	maxCached int

	numBlocks int64

	entries map[BlockIndex]*cacheEntry
	lru     *list.List // unpinned entries only, front = most recently used
	dirty   map[BlockIndex]*cacheEntry

	pool *bufferPool
}

// Open wraps a [BlockSource] as a paging engine. fileSizeBlocks is the
// current size of the source in blocks (the caller, typically the database
// header reader, already knows this). Pass a [NewFileSource] for plain,
// non-transactional access, or a *journal.Journal to run the engine over the
// write-ahead log (§4.2).
func Open(source BlockSource, fileSizeBlocks int64, opts Options) (*Engine, error) {
	if source == nil {
		panic("source is nil")
	}

	err := opts.validate()
	if err != nil {
		return nil, err
	}

	return &Engine{
		source:    source,
		blockSize: opts.BlockSize,
		readOnly:  opts.ReadOnly,
		maxCached: opts.MaxCachedBlocks,
		numBlocks: fileSizeBlocks,
		entries:   make(map[BlockIndex]*cacheEntry),
		lru:       list.New(),
		dirty:     make(map[BlockIndex]*cacheEntry),
		pool:      newBufferPool(opts.BlockSize, opts.MaxCachedBlocks),
	}, nil
}

// BlockSize returns the fixed block size in bytes.
func (e *Engine) BlockSize() int { return e.blockSize }

// Size returns the current file size in blocks.
func (e *Engine) Size() int64 { return e.numBlocks }

// ReadOnly reports whether the engine rejects mutation.
func (e *Engine) ReadOnly() bool { return e.readOnly }

// Pin returns a pinned, readable buffer for index (§4.1).
//
// If initialize is true and the block was not already cached, its contents
// are read from disk; otherwise the buffer's contents are unspecified and
// the caller must write them before calling MarkDirty.
//
// Pinning an already-pinned index is a programming error and fails with
// [perr.ErrBadArgument]. A single engine-level pin can still be shared by
// copying the returned Handle value at the call site; it just isn't
// re-entrant through Pin.
func (e *Engine) Pin(index BlockIndex, initialize bool) (*Handle, error) {
	if !index.Valid() || int64(index) >= e.numBlocks {
		return nil, perr.New(perr.ErrBadArgument, fmt.Sprintf("pin: block %d out of range (size %d)", index, e.numBlocks))
	}

	if entry, ok := e.entries[index]; ok {
		if entry.pinCount > 0 {
			return nil, perr.New(perr.ErrBadArgument, fmt.Sprintf("pin: block %d already pinned", index))
		}

		e.lru.Remove(entry.lruElem)
		entry.lruElem = nil
		entry.pinCount = 1

		return &Handle{engine: e, entry: entry}, nil
	}

	e.evictUntilWithinBounds()

	buf := e.pool.get()

	if initialize {
		err := e.source.ReadBlock(index, buf)
		if err != nil {
			e.pool.put(buf)

			return nil, perr.Wrap(perr.ErrIO, fmt.Sprintf("pin: read block %d", index), err)
		}
	}

	entry := &cacheEntry{index: index, buf: buf, pinCount: 1}
	e.entries[index] = entry

	return &Handle{engine: e, entry: entry}, nil
}

// OverwriteZero pins index with a deterministically zeroed buffer, used when
// logically allocating a fresh block (§4.1).
func (e *Engine) OverwriteZero(index BlockIndex) (*Handle, error) {
	h, err := e.Pin(index, false)
	if err != nil {
		return nil, err
	}

	clear(h.entry.buf)

	return h, nil
}

// Unpin releases a pin; the block moves back to the LRU cache once its pin
// count reaches zero.
func (e *Engine) Unpin(h *Handle) error {
	err := e.checkHandle(h)
	if err != nil {
		return err
	}

	if h.entry.pinCount == 0 {
		return perr.New(perr.ErrBadArgument, fmt.Sprintf("unpin: block %d not pinned", h.entry.index))
	}

	h.entry.pinCount--

	if h.entry.pinCount == 0 {
		h.entry.lruElem = e.lru.PushFront(h.entry)
	}

	return nil
}

// MarkDirty records that h's block has been modified.
func (e *Engine) MarkDirty(h *Handle) error {
	if e.readOnly {
		return perr.ErrReadOnly
	}

	err := e.checkHandle(h)
	if err != nil {
		return err
	}

	if !h.entry.dirty {
		h.entry.dirty = true
		e.dirty[h.entry.index] = h.entry
	}

	return nil
}

// Flush writes h's block back to disk if dirty. Does not imply fsync.
func (e *Engine) Flush(h *Handle) error {
	err := e.checkHandle(h)
	if err != nil {
		return err
	}

	return e.flushEntry(h.entry)
}

// FlushAll writes every dirty block back to disk. Does not imply fsync.
// Attempts every block even if some fail, joining all resulting errors.
func (e *Engine) FlushAll() error {
	var errs []error

	for _, entry := range e.dirty {
		err := e.flushEntry(entry)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) flushEntry(entry *cacheEntry) error {
	if !entry.dirty {
		return nil
	}

	err := e.source.WriteBlock(entry.index, entry.buf)
	if err != nil {
		return perr.Wrap(perr.ErrIO, fmt.Sprintf("flush block %d", entry.index), err)
	}

	entry.dirty = false
	delete(e.dirty, entry.index)

	return nil
}

// Grow extends the file by n blocks and returns the index of the first new
// block.
func (e *Engine) Grow(n int64) (BlockIndex, error) {
	if n <= 0 {
		return Invalid, perr.New(perr.ErrBadArgument, "grow: n must be > 0")
	}

	if e.readOnly {
		return Invalid, perr.ErrReadOnly
	}

	first := BlockIndex(e.numBlocks)
	newSize := e.numBlocks + n

	err := e.source.Truncate(newSize)
	if err != nil {
		return Invalid, perr.Wrap(perr.ErrIO, "grow: truncate file", err)
	}

	e.numBlocks = newSize

	return first, nil
}

// Truncate shrinks or grows the file to exactly n blocks, discarding any
// cached state for blocks that fall outside the new size.
func (e *Engine) Truncate(n int64) error {
	if n < 0 {
		return perr.New(perr.ErrBadArgument, "truncate: n must be >= 0")
	}

	if e.readOnly {
		return perr.ErrReadOnly
	}

	for idx, entry := range e.entries {
		if int64(idx) >= n {
			if entry.lruElem != nil {
				e.lru.Remove(entry.lruElem)
			}

			delete(e.entries, idx)
			delete(e.dirty, idx)
		}
	}

	err := e.source.Truncate(n)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "truncate file", err)
	}

	e.numBlocks = n

	return nil
}

// Discard drops any cached state for index without writing it back,
// regardless of its dirty bit. Used by the journal to force subsequent
// reads to refresh from the journal/database file after a rollback (§4.2).
func (e *Engine) Discard(index BlockIndex) {
	entry, ok := e.entries[index]
	if !ok {
		return
	}

	if entry.lruElem != nil {
		e.lru.Remove(entry.lruElem)
	}

	delete(e.entries, index)
	delete(e.dirty, index)
}

func (e *Engine) evictUntilWithinBounds() {
	for len(e.entries) >= e.maxCached {
		victim := e.lru.Back()
		if victim == nil {
			return
		}

		entry := victim.Value.(*cacheEntry)

		e.lru.Remove(victim)

		if entry.dirty {
			_ = e.flushEntry(entry)
		}

		delete(e.entries, entry.index)
		delete(e.dirty, entry.index)
		e.pool.put(entry.buf)
	}
}

func (e *Engine) checkHandle(h *Handle) error {
	if h == nil || h.engine != e {
		return perr.New(perr.ErrBadArgument, "handle does not belong to this engine")
	}

	return nil
}
