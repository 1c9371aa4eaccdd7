package btree

import "github.com/calvinalkan/pagestore/internal/engine"

// Insert inserts value; with overwrite=false an existing equal key is left
// untouched and inserted=false is returned, with overwrite=true its value is
// replaced (§4.4.4, plain insert vs insert_or_update).
//
// Uses top-down, pre-emptive split: a full node is split before Insert
// descends into it, so the recursive insert itself never has to propagate a
// split back up (§4.4.4).
func (t *Tree) Insert(value []byte, overwrite bool) (inserted bool, err error) {
	key := t.keyOf(value)

	full, err := t.isFull(t.root)
	if err != nil {
		return false, err
	}

	if full {
		err = t.splitRoot()
		if err != nil {
			return false, err
		}
	}

	return t.insertInto(t.root, key, value, overwrite)
}

func (t *Tree) isFull(idx engine.BlockIndex) (bool, error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return false, err
	}

	if kind == leafKind {
		n, err := t.readLeaf(idx)

		return len(n.values) >= t.layout.LeafCap, err
	}

	n, err := t.readInternal(idx)

	return len(n.children) >= t.layout.InternalCap, err
}

func (t *Tree) splitRoot() error {
	sepKey, rightIdx, err := t.splitNode(t.root)
	if err != nil {
		return err
	}

	newRoot, err := t.nodes.Allocate()
	if err != nil {
		return err
	}

	err = t.writeInternal(newRoot, internalNode{
		children: []engine.BlockIndex{t.root, rightIdx},
		keys:     [][]byte{sepKey},
	})
	if err != nil {
		return err
	}

	t.root = newRoot

	return nil
}

// splitNode splits idx roughly in half, rewriting idx in place as the left
// half and allocating a new right sibling. Returns the separator key (max
// key of the left half) and the new sibling's block index.
func (t *Tree) splitNode(idx engine.BlockIndex) (sepKey []byte, rightIdx engine.BlockIndex, err error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return nil, engine.Invalid, err
	}

	if kind == leafKind {
		return t.splitLeaf(idx)
	}

	return t.splitInternal(idx)
}

func (t *Tree) splitLeaf(idx engine.BlockIndex) ([]byte, engine.BlockIndex, error) {
	n, err := t.readLeaf(idx)
	if err != nil {
		return nil, engine.Invalid, err
	}

	mid := ceilDiv(len(n.values), 2)

	rightIdx, err := t.nodes.Allocate()
	if err != nil {
		return nil, engine.Invalid, err
	}

	left := leafNode{values: n.values[:mid], prev: n.prev, next: rightIdx}
	right := leafNode{values: n.values[mid:], prev: idx, next: n.next}

	if n.next.Valid() {
		nn, err := t.readLeaf(n.next)
		if err != nil {
			return nil, engine.Invalid, err
		}

		nn.prev = rightIdx

		err = t.writeLeaf(n.next, nn)
		if err != nil {
			return nil, engine.Invalid, err
		}
	}

	err = t.writeLeaf(idx, left)
	if err != nil {
		return nil, engine.Invalid, err
	}

	err = t.writeLeaf(rightIdx, right)
	if err != nil {
		return nil, engine.Invalid, err
	}

	t.rehomeAfterLeafSplit(idx, rightIdx, mid)

	return t.keyOf(left.values[len(left.values)-1]), rightIdx, nil
}

func (t *Tree) splitInternal(idx engine.BlockIndex) ([]byte, engine.BlockIndex, error) {
	n, err := t.readInternal(idx)
	if err != nil {
		return nil, engine.Invalid, err
	}

	mid := ceilDiv(len(n.children), 2)

	sep := n.keys[mid-1]

	left := internalNode{children: n.children[:mid], keys: n.keys[:mid-1]}
	right := internalNode{children: n.children[mid:], keys: n.keys[mid:]}

	rightIdx, err := t.nodes.Allocate()
	if err != nil {
		return nil, engine.Invalid, err
	}

	err = t.writeInternal(idx, left)
	if err != nil {
		return nil, engine.Invalid, err
	}

	err = t.writeInternal(rightIdx, right)
	if err != nil {
		return nil, engine.Invalid, err
	}

	return sep, rightIdx, nil
}

func (t *Tree) insertInto(idx engine.BlockIndex, key, value []byte, overwrite bool) (bool, error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return false, err
	}

	if kind == leafKind {
		return t.insertIntoLeaf(idx, key, value, overwrite)
	}

	n, err := t.readInternal(idx)
	if err != nil {
		return false, err
	}

	ci := t.childIndexForKey(n, key)

	full, err := t.isFull(n.children[ci])
	if err != nil {
		return false, err
	}

	if full {
		sep, rightIdx, err := t.splitNode(n.children[ci])
		if err != nil {
			return false, err
		}

		n.keys = insertKeyAt(n.keys, ci, sep)
		n.children = insertChildAt(n.children, ci+1, rightIdx)

		err = t.writeInternal(idx, n)
		if err != nil {
			return false, err
		}

		ci = t.childIndexForKey(n, key)
	}

	return t.insertInto(n.children[ci], key, value, overwrite)
}

func (t *Tree) insertIntoLeaf(idx engine.BlockIndex, key, value []byte, overwrite bool) (bool, error) {
	n, err := t.readLeaf(idx)
	if err != nil {
		return false, err
	}

	pos := t.lowerBoundLeaf(n, key)

	if pos < len(n.values) && t.cmp(t.keyOf(n.values[pos]), key) == 0 {
		if !overwrite {
			return false, nil
		}

		n.values[pos] = append([]byte(nil), value...)

		return true, t.writeLeaf(idx, n)
	}

	n.values = insertValueAt(n.values, pos, append([]byte(nil), value...))

	t.rehomeAfterInsert(idx, pos)

	return true, t.writeLeaf(idx, n)
}

func insertKeyAt(keys [][]byte, pos int, k []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[pos+1:], keys[pos:len(keys)-1])
	keys[pos] = k

	return keys
}

func insertChildAt(children []engine.BlockIndex, pos int, c engine.BlockIndex) []engine.BlockIndex {
	children = append(children, engine.Invalid)
	copy(children[pos+1:], children[pos:len(children)-1])
	children[pos] = c

	return children
}

func insertValueAt(values [][]byte, pos int, v []byte) [][]byte {
	values = append(values, nil)
	copy(values[pos+1:], values[pos:len(values)-1])
	values[pos] = v

	return values
}
