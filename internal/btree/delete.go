package btree

import "github.com/calvinalkan/pagestore/internal/engine"

// Delete removes the value with the given key, if present.
//
// Uses a top-down pre-emptive fixup, the deletion counterpart of Insert's
// pre-emptive split: before descending into a child at the minimum
// occupancy, it is first topped up by borrowing from a sibling or merged
// with one, so the recursive call never has to propagate underflow back up
// (a standard variation on §4.4.5's bottom-up description - see DESIGN.md).
// Where neither is possible (see fixChildUnderflow) the child can end one
// entry below its minimum until a later descent into it merges it.
func (t *Tree) Delete(key []byte) (bool, error) {
	deleted, err := t.deleteFrom(t.root, key)
	if err != nil {
		return false, err
	}

	if !deleted {
		return false, nil
	}

	kind, err := t.nodeKind(t.root)
	if err != nil {
		return true, err
	}

	if kind == internalKind {
		n, err := t.readInternal(t.root)
		if err != nil {
			return true, err
		}

		if len(n.children) == 1 {
			old := t.root
			t.root = n.children[0]

			err = t.nodes.Free(old)
			if err != nil {
				return true, err
			}

			t.eng.Discard(old)
		}
	}

	return true, nil
}

func (t *Tree) deleteFrom(idx engine.BlockIndex, key []byte) (bool, error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return false, err
	}

	if kind == leafKind {
		return t.deleteFromLeaf(idx, key)
	}

	n, err := t.readInternal(idx)
	if err != nil {
		return false, err
	}

	ci := t.childIndexForKey(n, key)

	minSize := t.minSizeOfKind
	childKind, err := t.nodeKind(n.children[ci])
	if err != nil {
		return false, err
	}

	size, err := t.nodeSize(n.children[ci])
	if err != nil {
		return false, err
	}

	if size <= minSize(childKind) {
		ci, err = t.fixChildUnderflow(idx, &n, ci)
		if err != nil {
			return false, err
		}

		err = t.writeInternal(idx, n)
		if err != nil {
			return false, err
		}
	}

	child := n.children[ci]

	deleted, err := t.deleteFrom(child, key)
	if err != nil || !deleted {
		return deleted, err
	}

	err = t.refreshSeparator(idx, &n, ci)
	if err != nil {
		return true, err
	}

	return true, t.writeInternal(idx, n)
}

func (t *Tree) minSizeOfKind(kind nodeKind) int {
	if kind == leafKind {
		return t.layout.LeafMin
	}

	return t.layout.InternalMin
}

// refreshSeparator resets the key separating child ci from its left sibling
// to that sibling's current maximum key, which a borrow from the left or a
// merge during the descent may have changed.
func (t *Tree) refreshSeparator(parentIdx engine.BlockIndex, parent *internalNode, ci int) error {
	if ci == 0 {
		return nil
	}

	maxKey, err := t.maxKeyOf(parent.children[ci-1])
	if err != nil {
		return err
	}

	parent.keys[ci-1] = maxKey

	return nil
}

func (t *Tree) maxKeyOf(idx engine.BlockIndex) ([]byte, error) {
	kind, err := t.nodeKind(idx)
	if err != nil {
		return nil, err
	}

	if kind == leafKind {
		n, err := t.readLeaf(idx)
		if err != nil {
			return nil, err
		}

		if len(n.values) == 0 {
			return nil, nil
		}

		return t.keyOf(n.values[len(n.values)-1]), nil
	}

	n, err := t.readInternal(idx)
	if err != nil {
		return nil, err
	}

	return t.maxKeyOf(n.children[len(n.children)-1])
}

func (t *Tree) deleteFromLeaf(idx engine.BlockIndex, key []byte) (bool, error) {
	n, err := t.readLeaf(idx)
	if err != nil {
		return false, err
	}

	pos := t.lowerBoundLeaf(n, key)
	if pos >= len(n.values) || t.cmp(t.keyOf(n.values[pos]), key) != 0 {
		return false, nil
	}

	n.values = append(n.values[:pos], n.values[pos+1:]...)

	t.rehomeAfterLeafRemove(idx, pos)

	return true, t.writeLeaf(idx, n)
}

// fixChildUnderflow tops up n.children[ci], which is at or below its
// minimum occupancy, by borrowing from a sibling or merging with one. A
// merge is only made when both nodes fit in one; when no sibling can lend
// and no merge fits (two minimum-size nodes of an odd capacity), the child
// is left as is and may drop one entry below its minimum.
// Returns the (possibly shifted, if a left-merge occurred) index of the
// child the caller should continue descending into.
func (t *Tree) fixChildUnderflow(parentIdx engine.BlockIndex, parent *internalNode, ci int) (int, error) {
	hasLeft := ci > 0
	hasRight := ci < len(parent.children)-1

	childKind, err := t.nodeKind(parent.children[ci])
	if err != nil {
		return ci, err
	}

	minSize := t.minSizeOfKind(childKind)

	childSize, err := t.nodeSize(parent.children[ci])
	if err != nil {
		return ci, err
	}

	capacity := t.layout.LeafCap
	if childKind == internalKind {
		capacity = t.layout.InternalCap
	}

	var rightSize, leftSize int

	if hasRight {
		rightSize, err = t.nodeSize(parent.children[ci+1])
		if err != nil {
			return ci, err
		}

		if rightSize > minSize {
			return ci, t.borrowFromRight(parent, ci, childKind)
		}
	}

	if hasLeft {
		leftSize, err = t.nodeSize(parent.children[ci-1])
		if err != nil {
			return ci, err
		}

		if leftSize > minSize {
			return ci, t.borrowFromLeft(parent, ci, childKind)
		}
	}

	if hasRight && childSize+rightSize <= capacity {
		return ci, t.merge(parent, ci, ci+1, childKind)
	}

	if hasLeft && childSize+leftSize <= capacity {
		return ci - 1, t.merge(parent, ci-1, ci, childKind)
	}

	return ci, nil
}

func (t *Tree) borrowFromRight(parent *internalNode, ci int, kind nodeKind) error {
	leftIdx, rightIdx := parent.children[ci], parent.children[ci+1]

	if kind == leafKind {
		left, err := t.readLeaf(leftIdx)
		if err != nil {
			return err
		}

		right, err := t.readLeaf(rightIdx)
		if err != nil {
			return err
		}

		moved := right.values[0]
		right.values = right.values[1:]
		left.values = append(left.values, moved)

		t.rehomeAfterBorrowRightToLeft(leftIdx, rightIdx, len(left.values))

		parent.keys[ci] = t.keyOf(moved)

		err = t.writeLeaf(leftIdx, left)
		if err != nil {
			return err
		}

		return t.writeLeaf(rightIdx, right)
	}

	left, err := t.readInternal(leftIdx)
	if err != nil {
		return err
	}

	right, err := t.readInternal(rightIdx)
	if err != nil {
		return err
	}

	left.children = append(left.children, right.children[0])
	left.keys = append(left.keys, parent.keys[ci])
	parent.keys[ci] = right.keys[0]
	right.children = right.children[1:]
	right.keys = right.keys[1:]

	err = t.writeInternal(leftIdx, left)
	if err != nil {
		return err
	}

	return t.writeInternal(rightIdx, right)
}

func (t *Tree) borrowFromLeft(parent *internalNode, ci int, kind nodeKind) error {
	leftIdx, rightIdx := parent.children[ci-1], parent.children[ci]

	if kind == leafKind {
		left, err := t.readLeaf(leftIdx)
		if err != nil {
			return err
		}

		right, err := t.readLeaf(rightIdx)
		if err != nil {
			return err
		}

		leftLenBefore := len(left.values)
		moved := left.values[leftLenBefore-1]
		left.values = left.values[:leftLenBefore-1]
		right.values = insertValueAt(right.values, 0, moved)

		t.rehomeAfterBorrowLeftToRight(leftIdx, rightIdx, leftLenBefore)

		parent.keys[ci-1] = t.keyOf(left.values[len(left.values)-1])

		err = t.writeLeaf(leftIdx, left)
		if err != nil {
			return err
		}

		return t.writeLeaf(rightIdx, right)
	}

	left, err := t.readInternal(leftIdx)
	if err != nil {
		return err
	}

	right, err := t.readInternal(rightIdx)
	if err != nil {
		return err
	}

	lastChild := left.children[len(left.children)-1]
	left.children = left.children[:len(left.children)-1]
	lastKey := left.keys[len(left.keys)-1]
	left.keys = left.keys[:len(left.keys)-1]

	right.children = insertChildAt(right.children, 0, lastChild)
	right.keys = insertKeyAt(right.keys, 0, parent.keys[ci-1])
	parent.keys[ci-1] = lastKey

	err = t.writeInternal(leftIdx, left)
	if err != nil {
		return err
	}

	return t.writeInternal(rightIdx, right)
}

// merge folds children[ri] into children[li] and removes the separator
// between them from parent.
func (t *Tree) merge(parent *internalNode, li, ri int, kind nodeKind) error {
	leftIdx, rightIdx := parent.children[li], parent.children[ri]

	if kind == leafKind {
		left, err := t.readLeaf(leftIdx)
		if err != nil {
			return err
		}

		right, err := t.readLeaf(rightIdx)
		if err != nil {
			return err
		}

		offset := len(left.values)
		left.values = append(left.values, right.values...)
		left.next = right.next

		if right.next.Valid() {
			nn, err := t.readLeaf(right.next)
			if err != nil {
				return err
			}

			nn.prev = leftIdx

			err = t.writeLeaf(right.next, nn)
			if err != nil {
				return err
			}
		}

		t.rehomeAfterMergeLeaf(leftIdx, rightIdx, offset)

		err = t.writeLeaf(leftIdx, left)
		if err != nil {
			return err
		}
	} else {
		left, err := t.readInternal(leftIdx)
		if err != nil {
			return err
		}

		right, err := t.readInternal(rightIdx)
		if err != nil {
			return err
		}

		left.children = append(left.children, right.children...)
		left.keys = append(append(left.keys, parent.keys[li]), right.keys...)

		err = t.writeInternal(leftIdx, left)
		if err != nil {
			return err
		}
	}

	err := t.nodes.Free(rightIdx)
	if err != nil {
		return err
	}

	t.eng.Discard(rightIdx)

	parent.keys = append(parent.keys[:li], parent.keys[li+1:]...)
	parent.children = append(parent.children[:ri], parent.children[ri+1:]...)

	return nil
}
