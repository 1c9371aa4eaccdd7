package pagestore

import "github.com/calvinalkan/pagestore/internal/perr"

// Error sentinels re-exported from internal/perr for public API ergonomics
// (§7's error taxonomy), so callers can write errors.Is(err,
// pagestore.ErrCorruption) without importing an internal package.
//
// Grounded on pkg/slotcache/errors.go's and internal/store/errors.go's flat
// sentinel set in the teacher.
var (
	ErrBadArgument  = perr.ErrBadArgument
	ErrBadOperation = perr.ErrBadOperation
	ErrBadCursor    = perr.ErrBadCursor
	ErrCorruption   = perr.ErrCorruption
	ErrIO           = perr.ErrIO
	ErrUnsupported  = perr.ErrUnsupported
	ErrReadOnly     = perr.ErrReadOnly
)
