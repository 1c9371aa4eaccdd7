package fs

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapFile wraps an [os.File] and serves ReadAt/WriteAt out of a memory
// mapping instead of going through the read/write syscalls directly.
//
// The engine's file I/O contract (§6.1 in the design doc) does not require
// mmap; this is the "implementation may provide an mmap-backed variant"
// option. The mapping is re-established whenever the file grows past the
// current mapping length, since mmap length is fixed at map time.
//
// ReadAt, WriteAt, Sync, Truncate and Close are serialized by an internal
// mutex, so concurrent calls to them do not race on the mapping.
type MmapFile struct {
	f File

	mu  sync.Mutex
	m   mmap.MMap
	len int64
}

// NewMmapFile wraps f, mapping up to its current size. f must support Fd(),
// i.e. it must be backed by a real OS file descriptor (not a pure in-memory
// fake).
func NewMmapFile(f File) (*MmapFile, error) {
	if f == nil {
		panic("f is nil")
	}

	mf := &MmapFile{f: f}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	if info.Size() > 0 {
		err = mf.remap(info.Size())
		if err != nil {
			return nil, err
		}
	}

	return mf, nil
}

func (mf *MmapFile) remap(size int64) error {
	if mf.m != nil {
		err := mf.m.Unmap()
		if err != nil {
			return fmt.Errorf("unmap: %w", err)
		}

		mf.m = nil
	}

	if size == 0 {
		mf.len = 0

		return nil
	}

	m, err := mmap.MapRegion(osFileFrom(mf.f), int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	mf.m = m
	mf.len = size

	return nil
}

// osFileFrom adapts a [File] to the *os.File mmap-go requires, via Fd().
// mmap-go only needs an *os.File for its Fd() method on most platforms;
// constructing one from a raw fd keeps this package independent of os.File
// identity while still working with fakes that expose a real descriptor.
func osFileFrom(f File) *os.File {
	return os.NewFile(f.Fd(), "")
}

// ReadAt reads from the mapping, extending it first if the backing file has
// grown since the last mapping.
func (mf *MmapFile) ReadAt(buf []byte, off int64) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	err := mf.ensureMapped(off + int64(len(buf)))
	if err != nil {
		return 0, err
	}

	if off < 0 || off > mf.len {
		return 0, errors.New("fs: mmap read out of range")
	}

	n := copy(buf, mf.m[off:])
	if n < len(buf) {
		return n, errors.New("fs: mmap short read")
	}

	return n, nil
}

// WriteAt writes into the mapping, extending it first if needed.
func (mf *MmapFile) WriteAt(buf []byte, off int64) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	err := mf.ensureMapped(off + int64(len(buf)))
	if err != nil {
		return 0, err
	}

	n := copy(mf.m[off:], buf)

	return n, nil
}

func (mf *MmapFile) ensureMapped(minLen int64) error {
	if minLen <= mf.len {
		return nil
	}

	info, err := mf.f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if info.Size() < minLen {
		return fmt.Errorf("fs: mmap access beyond file size (%d < %d)", info.Size(), minLen)
	}

	return mf.remap(info.Size())
}

// Sync flushes the mapping and the underlying file.
func (mf *MmapFile) Sync() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if mf.m != nil {
		err := mf.m.Flush()
		if err != nil {
			return fmt.Errorf("flush mmap: %w", err)
		}
	}

	return mf.f.Sync()
}

// Truncate grows or shrinks the file and re-establishes the mapping.
func (mf *MmapFile) Truncate(size int64) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	err := mf.f.Truncate(size)
	if err != nil {
		return err
	}

	return mf.remap(size)
}

// Close unmaps and closes the underlying file.
func (mf *MmapFile) Close() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	var unmapErr error
	if mf.m != nil {
		unmapErr = mf.m.Unmap()
		mf.m = nil
	}

	closeErr := mf.f.Close()

	return errors.Join(unmapErr, closeErr)
}

// Read, Write, Seek, Fd, Stat, and Chmod delegate to the wrapped file
// unchanged, so [MmapFile] satisfies [File] in full - pagestore's engine
// only ever drives block I/O through ReadAt/WriteAt, but the field types
// it's stored in (journal.Journal's db/log, pagestore.Database's dbFile)
// are declared as the full File interface.
func (mf *MmapFile) Read(p []byte) (int, error)  { return mf.f.Read(p) }
func (mf *MmapFile) Write(p []byte) (int, error) { return mf.f.Write(p) }
func (mf *MmapFile) Seek(offset int64, whence int) (int64, error) {
	return mf.f.Seek(offset, whence)
}
func (mf *MmapFile) Fd() uintptr                    { return mf.f.Fd() }
func (mf *MmapFile) Stat() (os.FileInfo, error)     { return mf.f.Stat() }
func (mf *MmapFile) Chmod(mode os.FileMode) error   { return mf.f.Chmod(mode) }
