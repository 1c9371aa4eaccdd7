package btree

import (
	"container/list"

	"github.com/calvinalkan/pagestore/internal/alloc"
	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// KeyFunc extracts the fixed-size key from a fixed-size value.
type KeyFunc func(value []byte) []byte

// CompareFunc orders two keys, returning <0, 0, or >0 like bytes.Compare.
type CompareFunc func(a, b []byte) int

// Tree is the B+tree of §4.4.
//
// Cursors are tracked as a simple (leaf, position) pair rather than a full
// root-to-leaf path (a deliberate simplification from the path-carrying
// cursor described in §4.4.2/4.4.5 - see DESIGN.md); insert/delete always
// re-descend from the root, and every structural change that touches a leaf
// walks the cursor list to keep (leaf, position) accurate or flag the
// cursor deleted/invalid.
//
// Not safe for concurrent use.
type Tree struct {
	eng    *engine.Engine
	nodes  *alloc.NodeAllocator
	layout Layout
	keyOf  KeyFunc
	cmp    CompareFunc

	root engine.BlockIndex

	cursors *list.List // *Cursor
}

// Create allocates a fresh, empty tree (a single empty leaf as root).
func Create(eng *engine.Engine, nodes *alloc.NodeAllocator, layout Layout, keyOf KeyFunc, cmp CompareFunc) (*Tree, error) {
	t := &Tree{eng: eng, nodes: nodes, layout: layout, keyOf: keyOf, cmp: cmp, cursors: list.New()}

	root, err := nodes.Allocate()
	if err != nil {
		return nil, err
	}

	err = t.writeLeaf(root, leafNode{next: engine.Invalid, prev: engine.Invalid})
	if err != nil {
		return nil, err
	}

	t.root = root

	return t, nil
}

// Open resumes a tree whose root is already at rootIdx.
func Open(eng *engine.Engine, nodes *alloc.NodeAllocator, layout Layout, keyOf KeyFunc, cmp CompareFunc, rootIdx engine.BlockIndex) *Tree {
	return &Tree{eng: eng, nodes: nodes, layout: layout, keyOf: keyOf, cmp: cmp, root: rootIdx, cursors: list.New()}
}

// Root returns the current root block, for persisting in the database
// header/anchors.
func (t *Tree) Root() engine.BlockIndex { return t.root }

func (t *Tree) nodeKind(idx engine.BlockIndex) (nodeKind, error) {
	h, err := t.eng.Pin(idx, true)
	if err != nil {
		return 0, err
	}

	k := nodeKindOf(h.Bytes())

	err = t.eng.Unpin(h)
	if err != nil {
		return 0, err
	}

	return k, nil
}

func (t *Tree) readLeaf(idx engine.BlockIndex) (leafNode, error) {
	h, err := t.eng.Pin(idx, true)
	if err != nil {
		return leafNode{}, err
	}

	n := decodeLeaf(h.Bytes(), t.layout)

	return n, t.eng.Unpin(h)
}

func (t *Tree) writeLeaf(idx engine.BlockIndex, n leafNode) error {
	h, err := t.eng.Pin(idx, false)
	if err != nil {
		return err
	}

	encodeLeaf(h.Bytes(), n, t.layout)

	err = t.eng.MarkDirty(h)
	if err != nil {
		return err
	}

	return t.eng.Unpin(h)
}

func (t *Tree) readInternal(idx engine.BlockIndex) (internalNode, error) {
	h, err := t.eng.Pin(idx, true)
	if err != nil {
		return internalNode{}, err
	}

	n := decodeInternal(h.Bytes(), t.layout)

	return n, t.eng.Unpin(h)
}

func (t *Tree) writeInternal(idx engine.BlockIndex, n internalNode) error {
	h, err := t.eng.Pin(idx, false)
	if err != nil {
		return err
	}

	encodeInternal(h.Bytes(), n, t.layout)

	err = t.eng.MarkDirty(h)
	if err != nil {
		return err
	}

	return t.eng.Unpin(h)
}

func (t *Tree) nodeSize(idx engine.BlockIndex) (int, error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return 0, err
	}

	if kind == leafKind {
		n, err := t.readLeaf(idx)

		return len(n.values), err
	}

	n, err := t.readInternal(idx)

	return len(n.children), err
}

func (t *Tree) lowerBoundLeaf(n leafNode, key []byte) int {
	lo, hi := 0, len(n.values)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(t.keyOf(n.values[mid]), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo
}

func (t *Tree) upperBoundLeaf(n leafNode, key []byte) int {
	lo, hi := 0, len(n.values)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(t.keyOf(n.values[mid]), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo
}

// childIndexForKey returns the index into n.children that key descends
// into: the first child whose separator key is >= key, or the rightmost
// child if key exceeds every separator.
func (t *Tree) childIndexForKey(n internalNode, key []byte) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo == len(n.keys) {
		return len(n.children) - 1
	}

	return lo
}

// leftmostLeaf/rightmostLeaf walk down the left/right spine of the tree.
func (t *Tree) leftmostLeaf() (engine.BlockIndex, error) {
	idx := t.root

	for {
		kind, err := t.nodeKind(idx)
		if err != nil {
			return engine.Invalid, err
		}

		if kind == leafKind {
			return idx, nil
		}

		n, err := t.readInternal(idx)
		if err != nil {
			return engine.Invalid, err
		}

		idx = n.children[0]
	}
}

func (t *Tree) rightmostLeaf() (engine.BlockIndex, error) {
	idx := t.root

	for {
		kind, err := t.nodeKind(idx)
		if err != nil {
			return engine.Invalid, err
		}

		if kind == leafKind {
			return idx, nil
		}

		n, err := t.readInternal(idx)
		if err != nil {
			return engine.Invalid, err
		}

		idx = n.children[len(n.children)-1]
	}
}

// descendToLeaf walks from the root to the leaf that would contain key.
func (t *Tree) descendToLeaf(key []byte) (engine.BlockIndex, error) {
	idx := t.root

	for {
		kind, err := t.nodeKind(idx)
		if err != nil {
			return engine.Invalid, err
		}

		if kind == leafKind {
			return idx, nil
		}

		n, err := t.readInternal(idx)
		if err != nil {
			return engine.Invalid, err
		}

		idx = n.children[t.childIndexForKey(n, key)]
	}
}

// Find looks up key, descending but never advancing past a leaf boundary
// (§4.4.3: "for find, no such advance is performed").
func (t *Tree) Find(key []byte) (leaf engine.BlockIndex, pos int, found bool, err error) {
	leaf, err = t.descendToLeaf(key)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	pos = t.lowerBoundLeaf(n, key)
	if pos < len(n.values) && t.cmp(t.keyOf(n.values[pos]), key) == 0 {
		return leaf, pos, true, nil
	}

	return engine.Invalid, 0, false, nil
}

// LowerBound returns the first value with key' >= key, advancing across a
// leaf boundary if the search lands past the end of a leaf (§4.4.3).
func (t *Tree) LowerBound(key []byte) (leaf engine.BlockIndex, pos int, ok bool, err error) {
	leaf, err = t.descendToLeaf(key)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	pos = t.lowerBoundLeaf(n, key)

	return t.normalizeForwardPosition(leaf, pos, n)
}

// UpperBound returns the first value with key' > key.
func (t *Tree) UpperBound(key []byte) (leaf engine.BlockIndex, pos int, ok bool, err error) {
	leaf, err = t.descendToLeaf(key)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	pos = t.upperBoundLeaf(n, key)

	return t.normalizeForwardPosition(leaf, pos, n)
}

func (t *Tree) normalizeForwardPosition(leaf engine.BlockIndex, pos int, n leafNode) (engine.BlockIndex, int, bool, error) {
	if pos < len(n.values) {
		return leaf, pos, true, nil
	}

	if !n.next.Valid() {
		return engine.Invalid, 0, false, nil
	}

	return n.next, 0, true, nil
}

// SeekMin returns the first value in the tree, if any.
func (t *Tree) SeekMin() (leaf engine.BlockIndex, pos int, ok bool, err error) {
	leaf, err = t.leftmostLeaf()
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if len(n.values) == 0 {
		return engine.Invalid, 0, false, nil
	}

	return leaf, 0, true, nil
}

// SeekMax returns the last value in the tree, if any.
func (t *Tree) SeekMax() (leaf engine.BlockIndex, pos int, ok bool, err error) {
	leaf, err = t.rightmostLeaf()
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if len(n.values) == 0 {
		return engine.Invalid, 0, false, nil
	}

	return leaf, len(n.values) - 1, true, nil
}

// Get returns a copy of the value at (leaf, pos).
func (t *Tree) Get(leaf engine.BlockIndex, pos int) ([]byte, error) {
	n, err := t.readLeaf(leaf)
	if err != nil {
		return nil, err
	}

	if pos < 0 || pos >= len(n.values) {
		return nil, perr.New(perr.ErrBadCursor, "btree: get: position out of range")
	}

	out := make([]byte, len(n.values[pos]))
	copy(out, n.values[pos])

	return out, nil
}

// Set overwrites the value at (leaf, pos). The derived key must be
// unchanged (§4.4.2 "set requires that the derived key is unchanged").
func (t *Tree) Set(leaf engine.BlockIndex, pos int, value []byte) error {
	n, err := t.readLeaf(leaf)
	if err != nil {
		return err
	}

	if pos < 0 || pos >= len(n.values) {
		return perr.New(perr.ErrBadCursor, "btree: set: position out of range")
	}

	if t.cmp(t.keyOf(n.values[pos]), t.keyOf(value)) != 0 {
		return perr.New(perr.ErrBadArgument, "btree: set: key must not change")
	}

	n.values[pos] = append([]byte(nil), value...)

	return t.writeLeaf(leaf, n)
}

// Next returns the (leaf, pos) immediately after the given position, or
// ok=false at end of the tree.
func (t *Tree) Next(leaf engine.BlockIndex, pos int) (engine.BlockIndex, int, bool, error) {
	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if pos+1 < len(n.values) {
		return leaf, pos + 1, true, nil
	}

	if !n.next.Valid() {
		return engine.Invalid, 0, false, nil
	}

	nn, err := t.readLeaf(n.next)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if len(nn.values) == 0 {
		return engine.Invalid, 0, false, nil
	}

	return n.next, 0, true, nil
}

// Prev returns the (leaf, pos) immediately before the given position, or
// ok=false at the start of the tree.
func (t *Tree) Prev(leaf engine.BlockIndex, pos int) (engine.BlockIndex, int, bool, error) {
	if pos > 0 {
		return leaf, pos - 1, true, nil
	}

	n, err := t.readLeaf(leaf)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if !n.prev.Valid() {
		return engine.Invalid, 0, false, nil
	}

	pn, err := t.readLeaf(n.prev)
	if err != nil {
		return engine.Invalid, 0, false, err
	}

	if len(pn.values) == 0 {
		return engine.Invalid, 0, false, nil
	}

	return n.prev, len(pn.values) - 1, true, nil
}
