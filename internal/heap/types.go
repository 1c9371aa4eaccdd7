// Package heap implements the garbage-collected blob store of §4.5: objects
// of arbitrary byte size are addressed by a stable [Reference] (an object
// table slot index) that survives the object moving on disk, and space is
// reclaimed by a caller-driven mark-and-sweep collection.
//
// There is no heap implementation in the retrieval pack's original_source/
// (only test/heap_test.cpp, which exercises the shape reproduced here:
// register a type, insert typed blobs, collect unreferenced ones). The cell
// and chunk layout, object table, and segregated free list below are built
// from spec.md §4.5's own description, following the teacher's general
// "fixed-layout structure serialized into engine-owned pinned buffers"
// idiom used throughout internal/btree and internal/alloc.
package heap

import "github.com/calvinalkan/pagestore/internal/engine"

// Reference identifies a live object by its object-table slot index. It
// stays valid across garbage collections and moves of the underlying bytes
// (compaction, §4.5.6) since it is never itself a storage address.
type Reference uint64

// InvalidReference is returned by failed lookups and accepted as a no-op by
// [Collector.Visit].
const InvalidReference Reference = ^Reference(0)

// Valid reports whether r is not [InvalidReference]. It does not check
// liveness against any particular heap.
func (r Reference) Valid() bool { return r != InvalidReference }

// TypeIndex identifies one object type, registered once per heap
// construction via [Heap.RegisterType] (§4.5.5).
type TypeIndex uint32

// TypeInfo describes one registered object type.
type TypeInfo struct {
	Index TypeIndex

	// DynamicSize marks types whose instances vary in byte size (almost
	// always true for blob-shaped payloads; kept for parity with the
	// original's fixed-vs-dynamic distinction, not otherwise enforced here).
	DynamicSize bool

	// ContainsReferences marks types whose payload may itself hold
	// references to other heap objects; only these are walked by the child
	// visitor during marking.
	ContainsReferences bool

	// Finalizer, if set, is invoked exactly once per reclaimed object of
	// this type, before its slot becomes reusable. Must not allocate on the
	// same heap.
	Finalizer func(Reference)
}

// ChildVisitor extracts the outgoing references from one object's raw
// payload bytes. Only invoked for types with ContainsReferences set.
type ChildVisitor func(payload []byte) []Reference

type registeredType struct {
	info    TypeInfo
	visitor ChildVisitor
}

// cellSize and headerSize are fixed by §4.5.1: a 16-byte cell is the unit of
// allocation, and every object is prefixed by an 8-byte header.
//
// The spec describes the header as carrying only the object table slot
// index, for a round-trip check. This implementation also stores the type
// index in the header (4 bytes each) since marking needs to know an
// object's type to find its registered child visitor, and the object table
// itself (§3.6: a slot is just address+size) has nowhere else to keep it -
// see DESIGN.md.
const (
	cellSize   = 16
	headerSize = 8
)

func ceilDiv64(a, b int64) int64 { return (a + b - 1) / b }

func cellsFor(payloadSize uint32, _ int64) int64 {
	return ceilDiv64(int64(headerSize)+int64(payloadSize), cellSize)
}

// blockOf returns the block a global cell address falls in.
func blockOf(cellAddr int64, cellsPerBlock int64) engine.BlockIndex {
	return engine.BlockIndex(cellAddr / cellsPerBlock)
}
