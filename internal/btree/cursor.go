package btree

import (
	"container/list"

	"github.com/calvinalkan/pagestore/internal/engine"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// Cursor is a stable reference to one value in the tree (§4.4.2). It tracks
// its (leaf, position) and is linked into its tree's cursor list so
// structural changes can keep it accurate, or flag it invalid/deleted.
//
// Not safe for concurrent use; a cursor must not outlive its tree.
type Cursor struct {
	tree *Tree
	elem *list.Element

	leaf    engine.BlockIndex
	pos     int
	valid   bool
	deleted bool
}

func (t *Tree) newCursor(leaf engine.BlockIndex, pos int, valid bool) *Cursor {
	c := &Cursor{tree: t, leaf: leaf, pos: pos, valid: valid}
	c.elem = t.cursors.PushBack(c)

	return c
}

// Close unlinks the cursor from its tree. After Close the cursor must not be
// used again.
func (c *Cursor) Close() {
	if c.elem != nil {
		c.tree.cursors.Remove(c.elem)
		c.elem = nil
	}
}

// Valid reports whether the cursor currently refers to a value.
func (c *Cursor) Valid() bool { return c.valid && !c.deleted }

// Deleted reports whether the value the cursor pointed to was erased.
func (c *Cursor) Deleted() bool { return c.deleted }

// Get returns a copy of the cursor's current value.
func (c *Cursor) Get() ([]byte, error) {
	if !c.Valid() {
		return nil, perr.New(perr.ErrBadCursor, "btree: cursor: get on invalid cursor")
	}

	return c.tree.Get(c.leaf, c.pos)
}

// Set overwrites the cursor's current value; the derived key must not
// change.
func (c *Cursor) Set(value []byte) error {
	if !c.Valid() {
		return perr.New(perr.ErrBadCursor, "btree: cursor: set on invalid cursor")
	}

	return c.tree.Set(c.leaf, c.pos, value)
}

// MoveNext advances the cursor to the next value in key order. If the
// cursor pointed to a now-deleted value, this transparently resumes from
// where that value used to be (§4.4.5).
func (c *Cursor) MoveNext() error {
	if !c.valid {
		return perr.New(perr.ErrBadCursor, "btree: cursor: move on invalid cursor")
	}

	if c.deleted {
		// The erased value's slot now holds its successor (or is one past
		// the end of the leaf).
		n, err := c.tree.readLeaf(c.leaf)
		if err != nil {
			return err
		}

		leaf, pos, ok, err := c.tree.normalizeForwardPosition(c.leaf, c.pos, n)
		if err != nil {
			return err
		}

		c.leaf, c.pos, c.valid, c.deleted = leaf, pos, ok, false

		return nil
	}

	leaf, pos, ok, err := c.tree.Next(c.leaf, c.pos)
	if err != nil {
		return err
	}

	c.leaf, c.pos, c.valid, c.deleted = leaf, pos, ok, false

	return nil
}

// MovePrev moves the cursor to the previous value in key order.
func (c *Cursor) MovePrev() error {
	if !c.valid {
		return perr.New(perr.ErrBadCursor, "btree: cursor: move on invalid cursor")
	}

	leaf, pos, ok, err := c.tree.Prev(c.leaf, c.pos)
	if err != nil {
		return err
	}

	c.leaf, c.pos, c.valid, c.deleted = leaf, pos, ok, false

	return nil
}

// Erase deletes the value the cursor points to.
func (c *Cursor) Erase() error {
	if !c.Valid() {
		return perr.New(perr.ErrBadCursor, "btree: cursor: erase on invalid cursor")
	}

	value, err := c.tree.Get(c.leaf, c.pos)
	if err != nil {
		return err
	}

	_, err = c.tree.Delete(c.tree.keyOf(value))

	return err
}

// SeekMinCursor returns a cursor positioned at the smallest value, invalid if the
// tree is empty.
func (t *Tree) SeekMinCursor() (*Cursor, error) {
	leaf, pos, ok, err := t.SeekMin()
	if err != nil {
		return nil, err
	}

	return t.newCursor(leaf, pos, ok), nil
}

// SeekMaxCursor returns a cursor positioned at the largest value.
func (t *Tree) SeekMaxCursor() (*Cursor, error) {
	leaf, pos, ok, err := t.SeekMax()
	if err != nil {
		return nil, err
	}

	return t.newCursor(leaf, pos, ok), nil
}

// FindCursor returns a cursor at the exact key, invalid if absent.
func (t *Tree) FindCursor(key []byte) (*Cursor, error) {
	leaf, pos, ok, err := t.Find(key)
	if err != nil {
		return nil, err
	}

	return t.newCursor(leaf, pos, ok), nil
}

// LowerBoundCursor returns a cursor at the first value with key' >= key.
func (t *Tree) LowerBoundCursor(key []byte) (*Cursor, error) {
	leaf, pos, ok, err := t.LowerBound(key)
	if err != nil {
		return nil, err
	}

	return t.newCursor(leaf, pos, ok), nil
}

// UpperBoundCursor returns a cursor at the first value with key' > key.
func (t *Tree) UpperBoundCursor(key []byte) (*Cursor, error) {
	leaf, pos, ok, err := t.UpperBound(key)
	if err != nil {
		return nil, err
	}

	return t.newCursor(leaf, pos, ok), nil
}

// The rehome* helpers below run after a structural change to a leaf and
// adjust every live cursor referencing that leaf so it keeps pointing at
// the same logical value (or is flagged deleted/moved as appropriate).

func (t *Tree) eachCursor(fn func(c *Cursor)) {
	for e := t.cursors.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Cursor))
	}
}

func (t *Tree) rehomeAfterInsert(leaf engine.BlockIndex, pos int) {
	t.eachCursor(func(c *Cursor) {
		if c.leaf == leaf && c.valid && c.pos >= pos {
			c.pos++
		}
	})
}

func (t *Tree) rehomeAfterLeafRemove(leaf engine.BlockIndex, pos int) {
	t.eachCursor(func(c *Cursor) {
		if c.leaf != leaf || !c.valid {
			return
		}

		switch {
		case c.pos == pos:
			c.deleted = true
		case c.pos > pos:
			c.pos--
		}
	})
}

func (t *Tree) rehomeAfterLeafSplit(leftIdx, rightIdx engine.BlockIndex, mid int) {
	t.eachCursor(func(c *Cursor) {
		if c.leaf == leftIdx && c.valid && c.pos >= mid {
			c.leaf = rightIdx
			c.pos -= mid
		}
	})
}

func (t *Tree) rehomeAfterBorrowRightToLeft(leftIdx, rightIdx engine.BlockIndex, leftLenAfter int) {
	t.eachCursor(func(c *Cursor) {
		if c.leaf != rightIdx || !c.valid {
			return
		}

		if c.pos == 0 {
			c.leaf = leftIdx
			c.pos = leftLenAfter - 1
		} else {
			c.pos--
		}
	})
}

func (t *Tree) rehomeAfterBorrowLeftToRight(leftIdx, rightIdx engine.BlockIndex, leftLenBefore int) {
	t.eachCursor(func(c *Cursor) {
		if !c.valid {
			return
		}

		if c.leaf == leftIdx && c.pos == leftLenBefore-1 {
			c.leaf = rightIdx
			c.pos = 0
		} else if c.leaf == rightIdx {
			c.pos++
		}
	})
}

func (t *Tree) rehomeAfterMergeLeaf(leftIdx, rightIdx engine.BlockIndex, offset int) {
	t.eachCursor(func(c *Cursor) {
		if c.leaf == rightIdx && c.valid {
			c.leaf = leftIdx
			c.pos += offset
		}
	})
}
