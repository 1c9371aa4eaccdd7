package engine

// BlockSource is what the paging engine reads from and writes through. The
// default source talks straight to a file (see NewFileSource); the
// transactional variant (package journal) implements this interface too so
// the engine can be "layered over" by the journal without the engine
// package needing to know transactions exist (§4.2: "Augments L1 with
// redo-log transactions; layered over L1's contract").
type BlockSource interface {
	// ReadBlock fills buf (exactly one block's worth of bytes) with the
	// current contents of block index.
	ReadBlock(index BlockIndex, buf []byte) error

	// WriteBlock writes buf as the new contents of block index.
	WriteBlock(index BlockIndex, buf []byte) error

	// Truncate resizes the logical database to sizeBlocks blocks.
	Truncate(sizeBlocks int64) error
}

// fileSource is the non-transactional BlockSource: a direct positional
// read/write against one file.
type fileSource struct {
	file      fileLike
	blockSize int
}

// fileLike is the subset of pkg/fs.File the engine needs; declared locally
// so this package does not import pkg/fs just for a type name (the concrete
// caller still passes a *fs.File-satisfying value).
type fileLike interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
}

// NewFileSource adapts a plain file into a [BlockSource] with no journaling.
func NewFileSource(file fileLike, blockSize int) BlockSource {
	return &fileSource{file: file, blockSize: blockSize}
}

func (s *fileSource) ReadBlock(index BlockIndex, buf []byte) error {
	_, err := s.file.ReadAt(buf, int64(index)*int64(s.blockSize))

	return err
}

func (s *fileSource) WriteBlock(index BlockIndex, buf []byte) error {
	_, err := s.file.WriteAt(buf, int64(index)*int64(s.blockSize))

	return err
}

func (s *fileSource) Truncate(sizeBlocks int64) error {
	return s.file.Truncate(sizeBlocks * int64(s.blockSize))
}
