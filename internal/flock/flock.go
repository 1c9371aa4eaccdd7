// Package flock provides an advisory, single-writer file lock used to
// enforce §5's "single process, single writer" rule across process
// boundaries - two pagestore processes opening the same database file for
// writing must not both succeed.
//
// Grounded on golang.org/x/sys/unix, which the pack already depends on
// (other_examples' squashfs writer imports golang.org/x/sys/unix for
// syscalls); no pack example happens to call unix.Flock specifically, so
// the exact call shape here follows the standard BSD-flock idiom the
// syscall itself documents rather than a pack file.
package flock

import (
	"github.com/calvinalkan/pagestore/internal/perr"
	"golang.org/x/sys/unix"
)

// Lock holds an advisory exclusive lock on a file descriptor until Unlock is
// called or the descriptor is closed.
type Lock struct {
	fd int
}

// TryExclusive attempts to acquire a non-blocking exclusive lock on fd. If
// another process already holds it, returns [perr.ErrBadOperation].
func TryExclusive(fd uintptr) (*Lock, error) {
	err := unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		return nil, perr.Wrap(perr.ErrBadOperation, "flock: database already open for writing", err)
	}

	return &Lock{fd: int(fd)}, nil
}

// Unlock releases the lock. Safe to call once; the descriptor itself is
// left open, it is the caller's to close.
func (l *Lock) Unlock() error {
	err := unix.Flock(l.fd, unix.LOCK_UN)
	if err != nil {
		return perr.Wrap(perr.ErrIO, "flock: unlock", err)
	}

	return nil
}
