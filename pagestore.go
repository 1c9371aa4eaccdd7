package pagestore

import (
	"os"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/btree"
	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/flock"
	"github.com/calvinalkan/pagestore/internal/heap"
	"github.com/calvinalkan/pagestore/internal/journal"
	"github.com/calvinalkan/pagestore/internal/perr"
	"github.com/calvinalkan/pagestore/pkg/fs"
	"github.com/klauspost/compress/zstd"
)

// BlobReference, BlobTypeIndex, BlobTypeInfo, and BlobChildVisitor mirror
// the corresponding internal/heap types for the public API (§4.5).
type (
	BlobReference    = heap.Reference
	BlobTypeIndex    = heap.TypeIndex
	BlobTypeInfo     = heap.TypeInfo
	BlobChildVisitor = heap.ChildVisitor
)

// InvalidBlobReference is returned by failed blob lookups.
const InvalidBlobReference = heap.InvalidReference

const (
	fileMagic     uint64 = 0x70616765_73746f72 // "pagestor"
	fileVersion   uint32 = 1
	fileHeaderLen        = 8 + 4 + 4 + 8 + 8 // magic, version, block size, format descriptor, anchor root
)

// Database ties the paging engine, journal, block allocators, B+tree, and
// blob heap together behind one database file and one journal log, per §5's
// single-process single-writer rule.
//
// Not safe for concurrent use.
type Database struct {
	fsys    fs.FS
	dbFile  fs.File
	logFile fs.File
	lock    *flock.Lock

	journal *journal.Journal
	eng     *engine.Engine

	blockSize     int
	keySize       int
	valueSize     int
	keyOf         btree.KeyFunc
	cmp           btree.CompareFunc
	dataChunkSize int64
	nodeChunkSize int64
	heapOpts      heap.Options
	readOnly      bool

	nodes *alloc.NodeAllocator
	data  *alloc.Allocator
	tree  *btree.Tree
	heap  *heap.Heap

	compressThreshold int
	zstdEnc           *zstd.Encoder
	zstdDec           *zstd.Decoder

	anchorRoot   engine.BlockIndex
	anchorBlocks []engine.BlockIndex
	lastAnchor   anchor

	blobTypes []registeredBlobType

	closed bool
}

type registeredBlobType struct {
	info    BlobTypeInfo
	visitor BlobChildVisitor
}

// Create initializes a brand new database at dbPath, backed by a write-ahead
// log at logPath. Both files must not already exist.
func Create(dbPath, logPath string, opts Options) (*Database, error) {
	return create(fs.NewReal(), dbPath, logPath, opts)
}

func create(fsys fs.FS, dbPath, logPath string, opts Options) (*Database, error) {
	if opts.KeySize <= 0 || opts.ValueSize <= 0 {
		return nil, perr.New(perr.ErrBadArgument, "pagestore: create: key size and value size must be > 0")
	}

	opts = opts.withDefaults()

	if opts.BlockSize < fileHeaderLen {
		return nil, perr.New(perr.ErrBadArgument, "pagestore: create: block size too small for the file header")
	}

	dbFile, logFile, lock, err := openFilePair(fsys, dbPath, logPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, opts.ReadOnly, opts.UseMmap)
	if err != nil {
		return nil, err
	}

	db, err := newDatabase(fsys, dbFile, logFile, lock, opts, 0)
	if err != nil {
		closeAll(dbFile, logFile, lock)

		return nil, err
	}

	err = db.journal.Begin()
	if err != nil {
		db.forceClose()

		return nil, err
	}

	first, err := db.eng.Grow(1)
	if err == nil && first != 0 {
		err = perr.New(perr.ErrCorruption, "pagestore: create: expected block 0 to be free on a new database")
	}

	if err != nil {
		db.forceClose()

		return nil, err
	}

	db.nodes = alloc.NewNodeAllocator(db.eng, db.nodeChunkSize)
	db.data = alloc.New(db.eng, db.dataChunkSize)

	layout, err := btree.NewLayout(opts.BlockSize, opts.KeySize, opts.ValueSize)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	db.tree, err = btree.Create(db.eng, db.nodes, layout, db.keyOf, db.cmp)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	db.heap, err = heap.Create(db.eng, db.nodes, db.data, db.heapOpts)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	err = db.persistAnchor()
	if err != nil {
		db.forceClose()

		return nil, err
	}

	err = db.journal.Commit()
	if err != nil {
		db.forceClose()

		return nil, err
	}

	return db, nil
}

// Open resumes an existing database previously created with [Create].
func Open(dbPath, logPath string, opts Options) (*Database, error) {
	return open(fs.NewReal(), dbPath, logPath, opts)
}

func open(fsys fs.FS, dbPath, logPath string, opts Options) (*Database, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}

	dbFile, logFile, lock, err := openFilePair(fsys, dbPath, logPath, flags, opts.ReadOnly, opts.UseMmap)
	if err != nil {
		return nil, err
	}

	blockSize, err := journal.PeekBlockSize(logFile)
	if err != nil {
		closeAll(dbFile, logFile, lock)

		return nil, err
	}

	opts.BlockSize = blockSize

	info, err := dbFile.Stat()
	if err != nil {
		closeAll(dbFile, logFile, lock)

		return nil, perr.Wrap(perr.ErrIO, "pagestore: open: stat database file", err)
	}

	dbSizeBlocks := info.Size() / int64(blockSize)

	db, err := newDatabase(fsys, dbFile, logFile, lock, opts.withDefaults(), dbSizeBlocks)
	if err != nil {
		closeAll(dbFile, logFile, lock)

		return nil, err
	}

	hdr, err := db.readBlock0()
	if err != nil {
		db.forceClose()

		return nil, err
	}

	anchorRoot, err := db.parseFileHeader(hdr)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	err = db.loadFromAnchorRoot(anchorRoot)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	db.keySize = int(db.lastAnchor.keySize)
	db.valueSize = int(db.lastAnchor.valueSize)

	layout, err := btree.NewLayout(opts.BlockSize, db.keySize, db.valueSize)
	if err != nil {
		db.forceClose()

		return nil, err
	}

	if db.keyOf == nil {
		keySize := db.keySize
		db.keyOf = func(value []byte) []byte { return value[:keySize] }
	}

	db.tree = btree.Open(db.eng, db.nodes, layout, db.keyOf, db.cmp, db.lastAnchor.btreeRoot)

	return db, nil
}

func newDatabase(fsys fs.FS, dbFile, logFile fs.File, lock *flock.Lock, opts Options, dbSizeBlocks int64) (*Database, error) {
	jrn, err := journal.Open(dbFile, logFile, dbSizeBlocks, journal.Options{
		BlockSize:    opts.BlockSize,
		SyncOnCommit: opts.SyncOnCommit,
	})
	if err != nil {
		return nil, err
	}

	eng, err := engine.Open(jrn, jrn.CommittedSize(), engine.Options{
		BlockSize:       opts.BlockSize,
		MaxCachedBlocks: opts.MaxCachedBlocks,
		ReadOnly:        opts.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	zstdEnc, zstdDec, err := newBlobCodec(opts.Heap.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	return &Database{
		fsys:          fsys,
		dbFile:        dbFile,
		logFile:       logFile,
		lock:          lock,
		journal:       jrn,
		eng:           eng,
		blockSize:     opts.BlockSize,
		keySize:       opts.KeySize,
		valueSize:     opts.ValueSize,
		keyOf:         btree.KeyFunc(opts.KeyFunc),
		cmp:           btree.CompareFunc(opts.Cmp),
		dataChunkSize: int64(opts.DataChunkSize),
		nodeChunkSize: int64(opts.NodeChunkSize),
		heapOpts:      heap.Options{MaxSmallObjectCells: opts.Heap.MaxSmallObjectCells, ChunkSizeBlocks: opts.Heap.ChunkSizeBlocks},
		readOnly:      opts.ReadOnly,
		anchorRoot:    engine.Invalid,
		compressThreshold: opts.Heap.CompressionThreshold,
		zstdEnc:           zstdEnc,
		zstdDec:           zstdDec,
	}, nil
}

// openFilePair opens the database and log files and acquires the
// single-writer lock. When useMmap is set (and the database isn't
// read-only - [fs.MmapFile] always maps RDWR, which fails against a file
// opened O_RDONLY), the database file is wrapped in an mmap-backed [fs.File]
// per §6.1's "no mmap required, but may be offered" clause; the log file is
// left as plain positional I/O since it's written append-mostly, which gets
// little benefit from a remapped memory window and would instead pay a
// remap on nearly every write.
func openFilePair(fsys fs.FS, dbPath, logPath string, dbFlags int, readOnly, useMmap bool) (fs.File, fs.File, *flock.Lock, error) {
	dbFile, err := fsys.OpenFile(dbPath, dbFlags, 0o644)
	if err != nil {
		return nil, nil, nil, perr.Wrap(perr.ErrIO, "pagestore: open database file", err)
	}

	if useMmap && !readOnly {
		dbFile, err = fs.NewMmapFile(dbFile)
		if err != nil {
			_ = dbFile.Close()

			return nil, nil, nil, perr.Wrap(perr.ErrIO, "pagestore: mmap database file", err)
		}
	}

	logFlags := os.O_RDWR | os.O_CREATE
	if dbFlags&os.O_EXCL != 0 {
		logFlags |= os.O_EXCL
	}

	if readOnly {
		logFlags = os.O_RDONLY
	}

	logFile, err := fsys.OpenFile(logPath, logFlags, 0o644)
	if err != nil {
		_ = dbFile.Close()

		return nil, nil, nil, perr.Wrap(perr.ErrIO, "pagestore: open log file", err)
	}

	var lock *flock.Lock

	if !readOnly {
		lock, err = flock.TryExclusive(dbFile.Fd())
		if err != nil {
			_ = dbFile.Close()
			_ = logFile.Close()

			return nil, nil, nil, err
		}
	}

	return dbFile, logFile, lock, nil
}

func closeAll(dbFile, logFile fs.File, lock *flock.Lock) {
	if lock != nil {
		_ = lock.Unlock()
	}

	if dbFile != nil {
		_ = dbFile.Close()
	}

	if logFile != nil {
		_ = logFile.Close()
	}
}

// forceClose tears down a partially constructed Database after a failed
// Create/Open, without trying to flush or persist anything further.
func (db *Database) forceClose() {
	closeAll(db.dbFile, db.logFile, db.lock)
	db.closed = true
}

// Close flushes any pending writes and releases the database's file handles
// and advisory lock.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}

	db.closed = true

	var firstErr error

	if !db.readOnly {
		if err := db.eng.FlushAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.lock != nil {
		if err := db.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := db.dbFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := db.logFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// Begin starts an explicit transaction. Calls made without one run inside an
// implicit, single-operation transaction (§4.2).
func (db *Database) Begin() error {
	if db.readOnly {
		return perr.New(perr.ErrReadOnly, "pagestore: begin: database is read-only")
	}

	return db.journal.Begin()
}

// Commit commits the current transaction, explicit or implicit.
func (db *Database) Commit() error {
	return db.journal.Commit()
}

// Rollback discards every write made in the current transaction and
// reconstructs the btree/heap/allocator state from the last committed
// anchor, since those structures cache on-disk state in memory
// incrementally and that cache is invalidated by the rollback (§4.2's
// "rollback via log truncation" only restores the bytes; in-memory structure
// caches above the paging engine must be rebuilt from them).
func (db *Database) Rollback() error {
	rolledBack := db.journal.Rollback()
	for _, idx := range rolledBack {
		db.eng.Discard(idx)
	}

	hdr, err := db.readBlock0()
	if err != nil {
		return err
	}

	anchorRoot, err := db.parseFileHeader(hdr)
	if err != nil {
		return err
	}

	return db.reloadFromAnchorRoot(anchorRoot)
}

// Checkpoint folds the journal log into the database file (§4.2).
func (db *Database) Checkpoint() error {
	return db.journal.Checkpoint()
}

// InTransaction reports whether a transaction is currently open.
func (db *Database) InTransaction() bool { return db.journal.InTransaction() }

func (db *Database) withAutoTx(fn func() error) error {
	owns := !db.journal.InTransaction()

	if owns {
		if err := db.journal.Begin(); err != nil {
			return err
		}
	}

	err := fn()
	if err != nil {
		if owns {
			_ = db.Rollback()
		}

		return err
	}

	if owns {
		return db.journal.Commit()
	}

	return nil
}

// parseFileHeader validates and decodes the fixed-size file header stored in
// block 0.
func (db *Database) parseFileHeader(buf []byte) (engine.BlockIndex, error) {
	if codec.GetUint64(buf[0:8]) != fileMagic {
		return engine.Invalid, perr.New(perr.ErrCorruption, "pagestore: bad file magic")
	}

	if codec.GetUint32(buf[8:12]) != fileVersion {
		return engine.Invalid, perr.New(perr.ErrUnsupported, "pagestore: unsupported file version")
	}

	if int(codec.GetUint32(buf[12:16])) != db.blockSize {
		return engine.Invalid, perr.New(perr.ErrCorruption, "pagestore: file block size does not match journal block size")
	}

	if codec.GetUint64(buf[16:24]) != anchorFormatDescriptor {
		return engine.Invalid, perr.New(perr.ErrCorruption, "pagestore: anchor format descriptor mismatch")
	}

	return engine.BlockIndex(codec.GetUint64(buf[24:32])), nil
}

// readBlock0 returns a copy of the file header bytes at the front of block
// 0. Safe to call outside a transaction (a plain read).
func (db *Database) readBlock0() ([]byte, error) {
	h, err := db.eng.Pin(0, true)
	if err != nil {
		return nil, err
	}

	buf := append([]byte(nil), h.Bytes()[:fileHeaderLen]...)

	return buf, db.eng.Unpin(h)
}

// writeFileHeader overwrites block 0's header with the database's current
// magic/version/block size/format descriptor/anchor root. Must be called
// inside a transaction.
func (db *Database) writeFileHeader() error {
	h, err := db.eng.OverwriteZero(0)
	if err != nil {
		return err
	}

	buf := h.Bytes()

	codec.PutUint64(buf[0:8], fileMagic)
	codec.PutUint32(buf[8:12], fileVersion)
	codec.PutUint32(buf[12:16], uint32(db.blockSize))
	codec.PutUint64(buf[16:24], anchorFormatDescriptor)
	codec.PutUint64(buf[24:32], uint64(db.anchorRoot))

	err = db.eng.MarkDirty(h)
	if err != nil {
		return err
	}

	return db.eng.Unpin(h)
}

// persistAnchor rewrites the top-level anchor to reflect the database's
// current btree root, heap root, and allocator bookkeeping, and repoints
// block 0's header at it.
//
// The anchor embeds snapshots of db.nodes and db.data, the very allocators
// that hand out the anchor chain's own blocks - so the chain's blocks must
// be allocated *before* those snapshots are taken, or the persisted
// snapshot would omit the blocks this call itself just consumed. See
// [alloc.WriteChain]'s doc comment.
func (db *Database) persistAnchor() error {
	sizingPayload := encodeAnchor(anchor{
		keySize:   int32(db.keySize),
		valueSize: int32(db.valueSize),
		btreeRoot: db.tree.Root(),
		heapRoot:  db.heap.Root(),
		data:      db.data.Snapshot(),
		nodes:     db.nodes.Snapshot(),
	})

	n, err := alloc.ChainBlockCount(db.eng.BlockSize(), len(sizingPayload))
	if err != nil {
		return err
	}

	blocks, err := alloc.AllocateChain(db.nodes, n)
	if err != nil {
		return err
	}

	finalPayload := encodeAnchor(anchor{
		keySize:   int32(db.keySize),
		valueSize: int32(db.valueSize),
		btreeRoot: db.tree.Root(),
		heapRoot:  db.heap.Root(),
		data:      db.data.Snapshot(),
		nodes:     db.nodes.Snapshot(),
	})

	// Reusing freed node blocks shortens the node free list, so the final
	// encoding can be shorter than the sized one, never longer; pad it back
	// to the sized length (decodeAnchor ignores trailing bytes).
	if len(finalPayload) > len(sizingPayload) {
		return perr.New(perr.ErrCorruption, "pagestore: anchor size changed between sizing and allocation passes")
	}

	finalPayload = append(finalPayload, make([]byte, len(sizingPayload)-len(finalPayload))...)

	err = alloc.WriteChainBlocks(db.eng, blocks, finalPayload)
	if err != nil {
		return err
	}

	oldBlocks := db.anchorBlocks

	db.anchorRoot = blocks[0]
	db.anchorBlocks = blocks

	err = db.writeFileHeader()
	if err != nil {
		return err
	}

	if oldBlocks != nil {
		return alloc.FreeChain(db.eng, db.nodes, oldBlocks)
	}

	return nil
}

func (db *Database) loadFromAnchorRoot(root engine.BlockIndex) error {
	payload, blocks, err := alloc.ReadChain(db.eng, root)
	if err != nil {
		return err
	}

	a := decodeAnchor(payload)

	db.nodes = alloc.NewNodeAllocator(db.eng, db.nodeChunkSize)
	db.nodes.Restore(a.nodes)

	db.data = alloc.New(db.eng, db.dataChunkSize)
	db.data.Restore(a.data)

	db.heap, err = heap.Open(db.eng, db.nodes, db.data, a.heapRoot)
	if err != nil {
		return err
	}

	for _, bt := range db.blobTypes {
		if err := db.heap.RegisterType(bt.info, bt.visitor); err != nil {
			return err
		}
	}

	db.anchorRoot = root
	db.anchorBlocks = blocks
	db.lastAnchor = a

	return nil
}

// reloadFromAnchorRoot is loadFromAnchorRoot plus rebuilding the btree
// handle, used after Rollback once the tree's layout is already known.
func (db *Database) reloadFromAnchorRoot(root engine.BlockIndex) error {
	err := db.loadFromAnchorRoot(root)
	if err != nil {
		return err
	}

	layout, err := btree.NewLayout(db.blockSize, db.keySize, db.valueSize)
	if err != nil {
		return err
	}

	db.tree = btree.Open(db.eng, db.nodes, layout, db.keyOf, db.cmp, db.lastAnchor.btreeRoot)

	return nil
}

// Insert adds value, keyed by db's KeyFunc, to the ordered index (§4.4.1).
// If a record with the same key already exists, overwrite controls whether
// it is replaced; inserted reports whether a new record was added.
func (db *Database) Insert(value []byte, overwrite bool) (bool, error) {
	if db.readOnly {
		return false, perr.New(perr.ErrReadOnly, "pagestore: insert: database is read-only")
	}

	var inserted bool

	err := db.withAutoTx(func() error {
		var err error

		inserted, err = db.tree.Insert(value, overwrite)
		if err != nil {
			return err
		}

		return db.persistAnchor()
	})

	return inserted, err
}

// Delete removes the record keyed by key, reporting whether one was found.
func (db *Database) Delete(key []byte) (bool, error) {
	if db.readOnly {
		return false, perr.New(perr.ErrReadOnly, "pagestore: delete: database is read-only")
	}

	var deleted bool

	err := db.withAutoTx(func() error {
		var err error

		deleted, err = db.tree.Delete(key)
		if err != nil {
			return err
		}

		return db.persistAnchor()
	})

	return deleted, err
}

// Cursor iterates the ordered index, surviving structural changes to the
// tree made through other cursors or Insert/Delete while it's open (§4.4.2).
type Cursor struct {
	db *Database
	c  *btree.Cursor
}

// Valid reports whether the cursor currently points at a live record.
func (c *Cursor) Valid() bool { return c.c.Valid() }

// Deleted reports whether the record the cursor was positioned on was
// erased out from under it.
func (c *Cursor) Deleted() bool { return c.c.Deleted() }

// Get returns the value the cursor currently points at.
func (c *Cursor) Get() ([]byte, error) { return c.c.Get() }

// Set overwrites the value the cursor currently points at, keeping its key.
func (c *Cursor) Set(value []byte) error {
	if c.db.readOnly {
		return perr.New(perr.ErrReadOnly, "pagestore: cursor: set: database is read-only")
	}

	return c.db.withAutoTx(func() error {
		return c.c.Set(value)
	})
}

// MoveNext advances the cursor to the next record in key order.
func (c *Cursor) MoveNext() error { return c.c.MoveNext() }

// MovePrev moves the cursor to the previous record in key order.
func (c *Cursor) MovePrev() error { return c.c.MovePrev() }

// Erase removes the record the cursor points at.
func (c *Cursor) Erase() error {
	if c.db.readOnly {
		return perr.New(perr.ErrReadOnly, "pagestore: cursor: erase: database is read-only")
	}

	return c.db.withAutoTx(func() error {
		err := c.c.Erase()
		if err != nil {
			return err
		}

		return c.db.persistAnchor()
	})
}

// Close releases the cursor. Safe to call more than once.
func (c *Cursor) Close() { c.c.Close() }

// SeekMinCursor returns a cursor positioned at the smallest key.
func (db *Database) SeekMinCursor() (*Cursor, error) {
	c, err := db.tree.SeekMinCursor()
	if err != nil {
		return nil, err
	}

	return &Cursor{db: db, c: c}, nil
}

// SeekMaxCursor returns a cursor positioned at the largest key.
func (db *Database) SeekMaxCursor() (*Cursor, error) {
	c, err := db.tree.SeekMaxCursor()
	if err != nil {
		return nil, err
	}

	return &Cursor{db: db, c: c}, nil
}

// FindCursor returns a cursor positioned at key, invalid if absent.
func (db *Database) FindCursor(key []byte) (*Cursor, error) {
	c, err := db.tree.FindCursor(key)
	if err != nil {
		return nil, err
	}

	return &Cursor{db: db, c: c}, nil
}

// LowerBoundCursor returns a cursor at the first key >= key.
func (db *Database) LowerBoundCursor(key []byte) (*Cursor, error) {
	c, err := db.tree.LowerBoundCursor(key)
	if err != nil {
		return nil, err
	}

	return &Cursor{db: db, c: c}, nil
}

// UpperBoundCursor returns a cursor at the first key > key.
func (db *Database) UpperBoundCursor(key []byte) (*Cursor, error) {
	c, err := db.tree.UpperBoundCursor(key)
	if err != nil {
		return nil, err
	}

	return &Cursor{db: db, c: c}, nil
}

// RegisterBlobType declares a blob type used by InsertBlob (§4.5.3). Must be
// called again after every Create/Open before using blobs of this type,
// including implicitly by the database itself after a [Database.Rollback]
// rebuilds the heap from its last committed anchor.
func (db *Database) RegisterBlobType(info BlobTypeInfo, visitor BlobChildVisitor) error {
	err := db.heap.RegisterType(info, visitor)
	if err != nil {
		return err
	}

	db.blobTypes = append(db.blobTypes, registeredBlobType{info: info, visitor: visitor})

	return nil
}

// InsertBlob stores payload as a variable-length blob of the given
// registered type and returns a stable reference to it (§4.5.3). Payloads at
// or above Options.Heap.CompressionThreshold are transparently zstd
// compressed on disk (see blob_codec.go); LoadBlob/BlobSize reverse this
// without the caller needing to know which blobs were compressed.
func (db *Database) InsertBlob(typeIdx BlobTypeIndex, payload []byte) (BlobReference, error) {
	if db.readOnly {
		return InvalidBlobReference, perr.New(perr.ErrReadOnly, "pagestore: insert blob: database is read-only")
	}

	encoded := db.encodeBlob(payload)

	var ref BlobReference

	err := db.withAutoTx(func() error {
		var err error

		ref, err = db.heap.Insert(typeIdx, encoded)
		if err != nil {
			return err
		}

		return db.persistAnchor()
	})

	return ref, err
}

// LoadBlob copies the blob referenced by ref into dst, returning its length.
// dst must be at least as large as the blob (see [Database.BlobSize]).
func (db *Database) LoadBlob(ref BlobReference, dst []byte) (int, error) {
	decoded, err := db.loadAndDecodeBlob(ref)
	if err != nil {
		return 0, err
	}

	return copy(dst, decoded), nil
}

// BlobSize returns the length in bytes of the blob referenced by ref. For a
// compressed blob this decompresses it to learn the logical length, the
// same cost as a full Load.
func (db *Database) BlobSize(ref BlobReference) (int, error) {
	decoded, err := db.loadAndDecodeBlob(ref)
	if err != nil {
		return 0, err
	}

	return len(decoded), nil
}

func (db *Database) loadAndDecodeBlob(ref BlobReference) ([]byte, error) {
	storedSize, err := db.heap.Size(ref)
	if err != nil {
		return nil, err
	}

	stored := make([]byte, storedSize)

	_, err = db.heap.Load(ref, stored)
	if err != nil {
		return nil, err
	}

	return db.decodeBlob(stored)
}

// CollectGarbage runs one mark-and-sweep pass over the blob heap, treating
// roots as the live set, and frees every unreachable blob (§4.5.5).
func (db *Database) CollectGarbage(roots []BlobReference) error {
	if db.readOnly {
		return perr.New(perr.ErrReadOnly, "pagestore: collect garbage: database is read-only")
	}

	return db.withAutoTx(func() error {
		c, err := db.heap.Begin()
		if err != nil {
			return err
		}

		for _, root := range roots {
			if err := c.Visit(root); err != nil {
				return err
			}
		}

		if err := c.Run(); err != nil {
			return err
		}

		return db.persistAnchor()
	})
}
