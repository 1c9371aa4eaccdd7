package heap

import "github.com/calvinalkan/pagestore/internal/perr"

// Collector runs one mark-and-sweep collection (§4.5.5). Obtained from
// [Heap.Begin], fed roots via [Collector.Visit], and finished with
// [Collector.Run].
type Collector struct {
	heap *Heap

	// smallMarks indexes per-chunk mark bitmaps by the chunk's starting
	// block, one bool per cell in the chunk.
	smallMarks map[int64][]bool
	largeHit   map[int64]bool

	stack []Reference
	done  bool
}

// Begin starts a collection. Only one collection may be in progress on a
// heap at a time (§4.5.7).
func (h *Heap) Begin() (*Collector, error) {
	if h.inCollection {
		return nil, perr.New(perr.ErrBadOperation, "heap: collection already in progress")
	}

	h.inCollection = true

	c := &Collector{
		heap:       h,
		smallMarks: make(map[int64][]bool),
		largeHit:   make(map[int64]bool),
	}

	for _, chunk := range h.chunks {
		key := int64(chunk.start)
		if chunk.large {
			c.largeHit[key] = false
		} else {
			c.smallMarks[key] = make([]bool, chunk.blocks*h.cellsPerBlock)
		}
	}

	return c, nil
}

// Visit marks ref (if valid) and transitively marks every reference
// reachable from it via each visited object's registered child visitor
// (§4.5.5 "Mark"). Call once per GC root.
func (c *Collector) Visit(ref Reference) error {
	if c.done {
		return perr.New(perr.ErrBadOperation, "heap: collector: visit after run")
	}

	if !ref.Valid() {
		return nil
	}

	c.stack = append(c.stack, ref)

	return c.drain()
}

func (c *Collector) drain() error {
	h := c.heap

	for len(c.stack) > 0 {
		ref := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]

		sl, ok := h.table.get(ref)
		if !ok {
			return perr.New(perr.ErrCorruption, "heap: mark: reference is not a live object")
		}

		chunk, ok := h.chunkFor(sl.addr)
		if !ok {
			return perr.New(perr.ErrCorruption, "heap: mark: object address is not within any known chunk")
		}

		key := int64(chunk.start)

		firstVisit := true

		if chunk.large {
			firstVisit = !c.largeHit[key]
			c.largeHit[key] = true
		} else {
			bits := c.smallMarks[key]
			cellOff := sl.addr - chunk.startCell(h.cellsPerBlock)
			firstVisit = !bits[cellOff]

			if firstVisit {
				n := cellsFor(sl.size, h.cellsPerBlock)
				for i := int64(0); i < n; i++ {
					bits[cellOff+i] = true
				}
			}
		}

		if !firstVisit {
			continue
		}

		payload, typeIdx, err := h.readObject(ref, sl)
		if err != nil {
			return err
		}

		rt, ok := h.types[typeIdx]
		if !ok {
			return perr.New(perr.ErrCorruption, "heap: mark: object has an unregistered type")
		}

		if rt.info.ContainsReferences && rt.visitor != nil {
			for _, child := range rt.visitor(payload) {
				if child.Valid() {
					c.stack = append(c.stack, child)
				}
			}
		}
	}

	return nil
}

// Run sweeps every slot not reached by a prior Visit, firing finalizers,
// rebuilds the small-object free list from the mark bitmaps, returns
// unmarked large chunks to the block allocator, and persists the result
// (§4.5.5 "Sweep"). The collector must not be reused afterward.
func (c *Collector) Run() error {
	if c.done {
		return perr.New(perr.ErrBadOperation, "heap: collector: run called twice")
	}

	h := c.heap

	defer func() {
		h.inCollection = false
		c.done = true
	}()

	for i := range h.table.slots {
		sl := h.table.slots[i]
		if !sl.live {
			continue
		}

		ref := Reference(i)

		chunk, ok := h.chunkFor(sl.addr)
		if !ok {
			return perr.New(perr.ErrCorruption, "heap: sweep: live object address is not within any known chunk")
		}

		marked := c.largeHit[int64(chunk.start)]
		if !chunk.large {
			marked = c.smallMarks[int64(chunk.start)][sl.addr-chunk.startCell(h.cellsPerBlock)]
		}

		if marked {
			continue
		}

		_, typeIdx, err := h.readObject(ref, sl)
		if err != nil {
			return err
		}

		if rt, ok := h.types[typeIdx]; ok && rt.info.Finalizer != nil {
			rt.info.Finalizer(ref)
		}

		h.table.free(ref)
	}

	h.free.reset()

	kept := h.chunks[:0:0]

	for _, chunk := range h.chunks {
		if chunk.large {
			if c.largeHit[int64(chunk.start)] {
				kept = append(kept, chunk)
			} else if err := h.data.Free(chunk.start, chunk.blocks); err != nil {
				return err
			}

			continue
		}

		kept = append(kept, chunk)

		bits := c.smallMarks[int64(chunk.start)]
		base := chunk.startCell(h.cellsPerBlock)

		runStart := int64(-1)
		for i := 0; i <= len(bits); i++ {
			free := i < len(bits) && !bits[i]

			switch {
			case free && runStart == -1:
				runStart = int64(i)
			case !free && runStart != -1:
				h.free.insert(base+runStart, int64(i)-runStart)
				runStart = -1
			}
		}
	}

	h.chunks = kept

	return h.persist()
}
