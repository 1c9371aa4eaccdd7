// Package perr defines the error taxonomy shared by every pagestore
// subsystem (paging engine, journal, allocator, B+tree, blob heap).
//
// Callers classify errors with [errors.Is] against the sentinels below, the
// same way [pkg/slotcache] classifies ErrCorrupt/ErrBusy and
// internal/store classifies ErrWALCorrupt/ErrIndexUpdate. Implementations
// wrap a sentinel with context using [Wrap] or [New]; they
// never return a bare sentinel from a deep call unless there truly is no
// extra context to add.
package perr

import "errors"

var (
	// ErrBadArgument marks API misuse detectable at the call site: a zero
	// key/value size, a nil buffer, an out-of-range index, a duplicate pin.
	ErrBadArgument = errors.New("pagestore: bad argument")

	// ErrBadOperation marks a legal API call made in the wrong state: commit
	// without begin, rollback with pins held, bulk-load on a non-empty tree.
	ErrBadOperation = errors.New("pagestore: bad operation")

	// ErrBadCursor marks a cursor used after its owning structure was
	// destroyed, or after the cursor itself was invalidated.
	ErrBadCursor = errors.New("pagestore: bad cursor")

	// ErrCorruption marks an on-disk invariant violation: magic mismatch,
	// version mismatch, block size mismatch, header round-trip failure, a
	// partial record where a full one was expected, or an inconsistent
	// object table / bitmap.
	ErrCorruption = errors.New("pagestore: corruption")

	// ErrIO marks a failure from the underlying file abstraction.
	ErrIO = errors.New("pagestore: io")

	// ErrUnsupported marks a request outside a layer's capabilities, such as
	// a multi-block allocation against the node allocator.
	ErrUnsupported = errors.New("pagestore: unsupported")

	// ErrReadOnly marks a mutating operation attempted against a read-only
	// engine or a read-only transaction.
	ErrReadOnly = errors.New("pagestore: read only")
)

// Wrap annotates err with op context while preserving errors.Is matching
// against the given sentinel kind.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}

	return &wrapped{kind: kind, op: op, err: err}
}

// New creates a new error of the given kind with a static message. Use this
// instead of fmt.Errorf when there's no wrapped cause to report.
func New(kind error, msg string) error {
	return &wrapped{kind: kind, op: msg}
}

type wrapped struct {
	kind error
	op   string
	err  error
}

func (w *wrapped) Error() string {
	if w.err == nil {
		return "pagestore: " + w.op
	}

	return "pagestore: " + w.op + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	if w.err == nil {
		return []error{w.kind}
	}

	return []error{w.kind, w.err}
}
