package btree

import (
	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// protoEntry is one pending (separator key, child block) pair waiting to be
// flushed into an internal node at its level.
type protoEntry struct {
	key   []byte
	child engine.BlockIndex
}

// Loader bulk-loads a strictly increasing stream of values into a brand new
// tree (§4.4.6). Only valid on an otherwise-empty tree: it builds leaves and
// internal levels directly rather than going through Insert, which is what
// makes it linear instead of O(n log n).
//
// Keeps one "proto" buffer per internal level. As soon as a level's buffer
// holds more than C entries (C = InternalCap), C of them are flushed into a
// full interior node and one entry stays behind, so every interior node
// except the last one written at each level has exactly C children. Finish
// writes each level's remaining entries into that last node (the right
// spine), which can hold as few as one child, below the minimum occupancy.
type Loader struct {
	eng    *engine.Engine
	nodes  *alloc.NodeAllocator
	layout Layout
	keyOf  KeyFunc
	cmp    CompareFunc

	leafValues [][]byte
	lastLeaf   engine.BlockIndex
	haveLeaf   bool

	levels [][]protoEntry

	lastKey []byte
	haveKey bool

	done bool
}

// NewLoader starts a bulk load that will allocate nodes through nodes and
// pin/write them through eng.
func NewLoader(eng *engine.Engine, nodes *alloc.NodeAllocator, layout Layout, keyOf KeyFunc, cmp CompareFunc) *Loader {
	return &Loader{eng: eng, nodes: nodes, layout: layout, keyOf: keyOf, cmp: cmp, lastLeaf: engine.Invalid}
}

// Add appends the next value. Values must arrive in strictly increasing key
// order.
func (l *Loader) Add(value []byte) error {
	if l.done {
		return perr.New(perr.ErrBadOperation, "btree: bulk load: add after finish/discard")
	}

	key := l.keyOf(value)

	if l.haveKey && l.cmp(l.lastKey, key) >= 0 {
		return perr.New(perr.ErrBadArgument, "btree: bulk load: keys must be strictly increasing")
	}

	l.lastKey, l.haveKey = append([]byte(nil), key...), true

	l.leafValues = append(l.leafValues, append([]byte(nil), value...))
	if len(l.leafValues) == l.layout.LeafCap {
		return l.flushLeaf()
	}

	return nil
}

func (l *Loader) flushLeaf() error {
	idx, err := l.nodes.Allocate()
	if err != nil {
		return err
	}

	n := leafNode{values: l.leafValues, prev: l.lastLeaf, next: engine.Invalid}

	err = l.writeLeaf(idx, n)
	if err != nil {
		return err
	}

	if l.haveLeaf {
		prev, err := l.readLeaf(l.lastLeaf)
		if err != nil {
			return err
		}

		prev.next = idx

		err = l.writeLeaf(l.lastLeaf, prev)
		if err != nil {
			return err
		}
	}

	l.lastLeaf = idx
	l.haveLeaf = true

	maxKey := l.keyOf(n.values[len(n.values)-1])
	l.leafValues = nil

	return l.pushProto(0, maxKey, idx)
}

func (l *Loader) pushProto(level int, key []byte, child engine.BlockIndex) error {
	for len(l.levels) <= level {
		l.levels = append(l.levels, nil)
	}

	l.levels[level] = append(l.levels[level], protoEntry{key: key, child: child})

	if len(l.levels[level]) > l.layout.InternalCap {
		return l.flushProtoLevel(level, l.layout.InternalCap)
	}

	return nil
}

func (l *Loader) flushProtoLevel(level, n int) error {
	entries := l.levels[level][:n]
	l.levels[level] = l.levels[level][n:]

	children := make([]engine.BlockIndex, n)
	keys := make([][]byte, n-1)

	for i, e := range entries {
		children[i] = e.child
		if i < n-1 {
			keys[i] = e.key
		}
	}

	idx, err := l.nodes.Allocate()
	if err != nil {
		return err
	}

	err = l.writeInternal(idx, internalNode{children: children, keys: keys})
	if err != nil {
		return err
	}

	return l.pushProto(level+1, entries[n-1].key, idx)
}

// Finish flushes all buffered state and returns the new tree's root. Levels
// are flushed bottom-up until exactly one child remains at the top.
func (l *Loader) Finish() (engine.BlockIndex, error) {
	if l.done {
		return engine.Invalid, perr.New(perr.ErrBadOperation, "btree: bulk load: finish called twice")
	}

	l.done = true

	if !l.haveLeaf && len(l.leafValues) == 0 {
		// Nothing was ever added: produce a single empty leaf as the root.
		idx, err := l.nodes.Allocate()
		if err != nil {
			return engine.Invalid, err
		}

		return idx, l.writeLeaf(idx, leafNode{next: engine.Invalid, prev: engine.Invalid})
	}

	if len(l.leafValues) > 0 {
		err := l.flushLeaf()
		if err != nil {
			return engine.Invalid, err
		}
	}

	if len(l.levels) == 0 {
		return l.lastLeaf, nil
	}

	for level := 0; level < len(l.levels); level++ {
		for len(l.levels[level]) > l.layout.InternalCap {
			err := l.flushProtoLevel(level, l.layout.InternalCap)
			if err != nil {
				return engine.Invalid, err
			}
		}

		if len(l.levels[level]) == 1 && level == len(l.levels)-1 {
			return l.levels[level][0].child, nil
		}

		err := l.flushProtoLevel(level, len(l.levels[level]))
		if err != nil {
			return engine.Invalid, err
		}
	}

	last := l.levels[len(l.levels)-1]

	return last[0].child, nil
}

// Discard frees every node produced so far and abandons the load.
func (l *Loader) Discard() error {
	l.done = true

	idx := l.lastLeaf
	for l.haveLeaf && idx.Valid() {
		n, err := l.readLeaf(idx)
		if err != nil {
			return err
		}

		err = l.nodes.Free(idx)
		if err != nil {
			return err
		}

		l.eng.Discard(idx)
		idx = n.prev
	}

	for _, level := range l.levels {
		for _, e := range level {
			err := l.nodes.Free(e.child)
			if err != nil {
				return err
			}

			l.eng.Discard(e.child)
		}
	}

	return nil
}

func (l *Loader) readLeaf(idx engine.BlockIndex) (leafNode, error) {
	h, err := l.eng.Pin(idx, true)
	if err != nil {
		return leafNode{}, err
	}

	n := decodeLeaf(h.Bytes(), l.layout)

	return n, l.eng.Unpin(h)
}

func (l *Loader) writeLeaf(idx engine.BlockIndex, n leafNode) error {
	h, err := l.eng.Pin(idx, false)
	if err != nil {
		return err
	}

	encodeLeaf(h.Bytes(), n, l.layout)

	err = l.eng.MarkDirty(h)
	if err != nil {
		return err
	}

	return l.eng.Unpin(h)
}

func (l *Loader) writeInternal(idx engine.BlockIndex, n internalNode) error {
	h, err := l.eng.Pin(idx, false)
	if err != nil {
		return err
	}

	encodeInternal(h.Bytes(), n, l.layout)

	err = l.eng.MarkDirty(h)
	if err != nil {
		return err
	}

	return l.eng.Unpin(h)
}
