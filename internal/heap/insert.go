package heap

import (
	"math"

	"github.com/calvinalkan/pagestore/internal/codec"
	"github.com/calvinalkan/pagestore/internal/perr"
)

// Insert stores payload as a new object of the given registered type and
// returns its reference (§4.5.3).
func (h *Heap) Insert(typeIdx TypeIndex, payload []byte) (Reference, error) {
	if _, ok := h.types[typeIdx]; !ok {
		return InvalidReference, perr.New(perr.ErrBadArgument, "heap: insert: type not registered")
	}

	if len(payload) > math.MaxUint32-headerSize {
		return InvalidReference, perr.New(perr.ErrBadArgument, "heap: insert: payload too large")
	}

	cells := cellsFor(uint32(len(payload)), h.cellsPerBlock)

	ref := h.table.reserve()

	var (
		addr int64
		err  error
	)

	if cells > h.maxSmallObjectCells {
		addr, err = h.allocateLarge(cells)
	} else {
		addr, err = h.allocateSmall(cells)
	}

	if err != nil {
		h.table.free(ref)

		return InvalidReference, err
	}

	h.table.setAddr(ref, addr, uint32(len(payload)))

	buf := make([]byte, headerSize+len(payload))
	codec.PutUint32(buf[0:4], uint32(typeIdx))
	codec.PutUint32(buf[4:8], uint32(ref))
	copy(buf[headerSize:], payload)

	err = writeAt(h.eng, addr*cellSize, buf)
	if err != nil {
		return InvalidReference, err
	}

	return ref, h.persist()
}

// Load copies ref's current payload into dst (which must be at least
// [Heap.Size](ref) bytes) and returns the number of bytes copied (§4.5.4).
func (h *Heap) Load(ref Reference, dst []byte) (int, error) {
	sl, ok := h.table.get(ref)
	if !ok {
		return 0, perr.New(perr.ErrBadArgument, "heap: load: invalid reference")
	}

	payload, _, err := h.readObject(ref, sl)
	if err != nil {
		return 0, err
	}

	return copy(dst, payload), nil
}

// Size returns the byte size of ref's current payload.
func (h *Heap) Size(ref Reference) (int, error) {
	sl, ok := h.table.get(ref)
	if !ok {
		return 0, perr.New(perr.ErrBadArgument, "heap: size: invalid reference")
	}

	return int(sl.size), nil
}
