package pagestore

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/pagestore/pkg/fs"
)

const (
	defaultBlockSize      = 4096
	defaultMaxCachedBlock = 1024
	defaultDataChunkSize  = 16
	defaultNodeChunkSize  = 16
)

// KeyFunc extracts a fixed-size ordering key from a fixed-size value. The
// default treats the first KeySize bytes of the value as the key (§4.4.1:
// "an ordered index keyed by a fixed-size key extracted from fixed-size
// values"). A caller whose values have no natural fixed-size key prefix can
// instead pass [codec.HashKeyFunc] (content-hash ordering, not a
// lexicographic one over the original bytes).
type KeyFunc func(value []byte) []byte

// CompareFunc orders two keys, returning <0, 0, or >0 like bytes.Compare.
type CompareFunc func(a, b []byte) int

// Options configures a [Database]. The zero value is replaced with the
// defaults below except for KeySize/ValueSize, which are required.
//
// Grounded on the teacher's pkg/pager.Options (PageSize/CacheSize/ReadOnly)
// and internal/ticket/config.go's HuJSON config file, extended with this
// module's own tunables (§3.3's block size, §4.3's allocation chunk sizes,
// §4.4's fixed key/value sizes, §4.2's sync-on-commit durability knob).
type Options struct {
	// BlockSize is the fixed block size in bytes (§3.1). Required for
	// Create; ignored by Open, which reads it back from the journal header.
	BlockSize int

	// MaxCachedBlocks bounds the paging engine's resident block count.
	MaxCachedBlocks int

	// KeySize and ValueSize are the B+tree's fixed record sizes (§4.4.1).
	// Required for Create; ignored by Open, which reads them from the
	// database anchor.
	KeySize   int
	ValueSize int

	// KeyFunc and Cmp customize how keys are derived and ordered. Both
	// default when nil: KeyFunc to the first KeySize bytes of the value,
	// Cmp to bytes.Compare.
	KeyFunc KeyFunc
	Cmp     CompareFunc

	// DataChunkSize and NodeChunkSize are the minimum number of blocks
	// requested per grow by the general allocator and node allocator
	// respectively (§4.3).
	DataChunkSize int
	NodeChunkSize int

	// Heap configures the blob heap's small-object threshold and chunk
	// size (§4.5.1). Zero value picks the heap package's own defaults.
	Heap HeapOptions

	// SyncOnCommit fsyncs the journal log after every commit (§4.2).
	SyncOnCommit bool

	// ReadOnly opens the database without acquiring the single-writer file
	// lock and rejects mutating calls with [ErrReadOnly].
	ReadOnly bool

	// UseMmap serves the database file's block I/O from a memory mapping
	// (pkg/fs.MmapFile) instead of ReadAt/WriteAt syscalls, per §6.1's "no
	// mmap required, but may be offered" clause. Ignored when ReadOnly is
	// set, since the mapping is always established RDWR. The log file is
	// never mapped; it's written append-mostly, which would force a remap
	// on nearly every write.
	UseMmap bool
}

// HeapOptions mirrors internal/heap.Options for the public API, so callers
// don't need to import the internal package to tune it.
type HeapOptions struct {
	MaxSmallObjectCells int64 `json:"max_small_object_cells,omitempty"` //nolint:tagliatelle
	ChunkSizeBlocks     int64 `json:"chunk_size_blocks,omitempty"`      //nolint:tagliatelle

	// CompressionThreshold zstd-compresses a blob's payload before storing
	// it once the payload is at least this many bytes. <= 0 disables
	// compression; every blob is then stored as handed to InsertBlob plus
	// a one-byte envelope tag (see blob_codec.go).
	CompressionThreshold int `json:"compression_threshold,omitempty"` //nolint:tagliatelle
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}

	if o.MaxCachedBlocks <= 0 {
		o.MaxCachedBlocks = defaultMaxCachedBlock
	}

	if o.DataChunkSize <= 0 {
		o.DataChunkSize = defaultDataChunkSize
	}

	if o.NodeChunkSize <= 0 {
		o.NodeChunkSize = defaultNodeChunkSize
	}

	// KeySize is unknown for Open (it's read back from the database anchor
	// once the file is open), so the default extractor is only installed
	// here when the caller already knows it - Create's case. Open installs
	// its own default once it has decoded the real key size.
	if o.KeyFunc == nil && o.KeySize > 0 {
		keySize := o.KeySize
		o.KeyFunc = func(value []byte) []byte { return value[:keySize] }
	}

	if o.Cmp == nil {
		o.Cmp = bytesCompare
	}

	return o
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}

			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// configFile is the on-disk shape accepted by [LoadOptionsFile]. Only the
// fields that make sense to tune without recompiling are exposed; KeyFunc
// and Cmp remain Go-only.
type configFile struct {
	BlockSize       int          `json:"block_size,omitempty"`       //nolint:tagliatelle
	MaxCachedBlocks int          `json:"max_cached_blocks,omitempty"` //nolint:tagliatelle
	KeySize         int          `json:"key_size,omitempty"`          //nolint:tagliatelle
	ValueSize       int          `json:"value_size,omitempty"`        //nolint:tagliatelle
	DataChunkSize   int          `json:"data_chunk_size,omitempty"`   //nolint:tagliatelle
	NodeChunkSize   int          `json:"node_chunk_size,omitempty"`   //nolint:tagliatelle
	Heap            HeapOptions  `json:"heap,omitempty"`
	SyncOnCommit    bool         `json:"sync_on_commit,omitempty"` //nolint:tagliatelle
	ReadOnly        bool         `json:"read_only,omitempty"`      //nolint:tagliatelle
	UseMmap         bool         `json:"use_mmap,omitempty"`       //nolint:tagliatelle
}

// LoadOptionsFile reads a HuJSON (JSON-with-comments-and-trailing-commas)
// document at path and decodes it into an [Options] value, the way the
// teacher's internal/ticket/config.go loads .tk.json. KeyFunc and Cmp are
// left nil (the defaults) since functions aren't representable in JSON;
// callers that need custom ordering set them on the returned value before
// calling [Create]/[Open].
func LoadOptionsFile(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Options{}, err
	}

	var cf configFile

	err = json.Unmarshal(std, &cf)
	if err != nil {
		return Options{}, err
	}

	return Options{
		BlockSize:       cf.BlockSize,
		MaxCachedBlocks: cf.MaxCachedBlocks,
		KeySize:         cf.KeySize,
		ValueSize:       cf.ValueSize,
		DataChunkSize:   cf.DataChunkSize,
		NodeChunkSize:   cf.NodeChunkSize,
		Heap:            cf.Heap,
		SyncOnCommit:    cf.SyncOnCommit,
		ReadOnly:        cf.ReadOnly,
		UseMmap:         cf.UseMmap,
	}, nil
}

// SaveOptionsFile writes opts back to path as JSON, the companion to
// [LoadOptionsFile]. It uses [fs.AtomicWriter] to replace the file via
// write-temp-then-rename, the same technique and library the teacher used
// in internal/store/store.go and pkg/mddb/mddb.go for rewriting a whole
// config/metadata file in place - a config file on disk is exactly that
// kind of whole-file artifact, unlike the journal's block-addressed writes.
// KeyFunc and Cmp are not representable in JSON and are silently dropped.
func SaveOptionsFile(path string, opts Options) error {
	cf := configFile{
		BlockSize:       opts.BlockSize,
		MaxCachedBlocks: opts.MaxCachedBlocks,
		KeySize:         opts.KeySize,
		ValueSize:       opts.ValueSize,
		DataChunkSize:   opts.DataChunkSize,
		NodeChunkSize:   opts.NodeChunkSize,
		Heap:            opts.Heap,
		SyncOnCommit:    opts.SyncOnCommit,
		ReadOnly:        opts.ReadOnly,
		UseMmap:         opts.UseMmap,
	}

	raw, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}

	writer := fs.NewAtomicWriter(&fs.Real{})

	return writer.WriteWithDefaults(path, bytes.NewReader(raw))
}
