package heap

// slot is one object-table entry (§4.5.2): a tagged union of live
// (cell address, byte size) or free (index of next free slot, -1 if none).
type slot struct {
	live bool
	addr int64
	size uint32
	next int64
}

// objectTable is the dense, growing array of slots indexed by reference,
// with a free-list threaded through dead slots via their next field.
type objectTable struct {
	slots    []slot
	freeHead int64
}

func newObjectTable() *objectTable {
	return &objectTable{freeHead: -1}
}

// reserve marks a slot live with a placeholder address/size and returns its
// reference, reusing a freed slot if one is available. The caller fills in
// the real address/size once known via setAddr - insert needs the
// reference to compose the object header before it has picked an address.
func (t *objectTable) reserve() Reference {
	if t.freeHead != -1 {
		idx := t.freeHead
		t.freeHead = t.slots[idx].next
		t.slots[idx] = slot{live: true}

		return Reference(idx)
	}

	t.slots = append(t.slots, slot{live: true})

	return Reference(len(t.slots) - 1)
}

func (t *objectTable) setAddr(ref Reference, addr int64, size uint32) {
	t.slots[ref].addr = addr
	t.slots[ref].size = size
}

// free returns a slot to the free list. The caller is responsible for
// having already run any finalizer.
func (t *objectTable) free(ref Reference) {
	t.slots[ref] = slot{next: t.freeHead}
	t.freeHead = int64(ref)
}

func (t *objectTable) get(ref Reference) (slot, bool) {
	idx := int64(ref)
	if idx < 0 || idx >= int64(len(t.slots)) || !t.slots[idx].live {
		return slot{}, false
	}

	return t.slots[idx], true
}
