package heap

import "github.com/calvinalkan/pagestore/internal/engine"

// readAt/writeAt treat the engine as a flat byte array addressed by global
// byte offset, for object payloads that straddle block boundaries at
// arbitrary (non-block-aligned) cell offsets. writeAt always reads the
// target block first (Pin with initialize=true) since small chunks pack
// many unrelated objects per block and a blind overwrite would clobber
// neighbors.
func readAt(eng *engine.Engine, byteAddr int64, n int) ([]byte, error) {
	blockSize := int64(eng.BlockSize())
	out := make([]byte, n)

	pos, written := byteAddr, 0
	for written < n {
		idx := engine.BlockIndex(pos / blockSize)
		off := int(pos % blockSize)

		h, err := eng.Pin(idx, true)
		if err != nil {
			return nil, err
		}

		take := min(n-written, eng.BlockSize()-off)
		copy(out[written:written+take], h.Bytes()[off:off+take])

		err = eng.Unpin(h)
		if err != nil {
			return nil, err
		}

		written += take
		pos += int64(take)
	}

	return out, nil
}

func writeAt(eng *engine.Engine, byteAddr int64, data []byte) error {
	blockSize := int64(eng.BlockSize())

	pos, written := byteAddr, 0
	for written < len(data) {
		idx := engine.BlockIndex(pos / blockSize)
		off := int(pos % blockSize)

		h, err := eng.Pin(idx, true)
		if err != nil {
			return err
		}

		take := min(len(data)-written, eng.BlockSize()-off)
		copy(h.Bytes()[off:off+take], data[written:written+take])

		err = eng.MarkDirty(h)
		if err != nil {
			return err
		}

		err = eng.Unpin(h)
		if err != nil {
			return err
		}

		written += take
		pos += int64(take)
	}

	return nil
}

// The flattened anchor (see anchor.go) is persisted as a linked chain of
// blocks by internal/alloc.WriteChain/ReadChain/FreeChain, shared with the
// top-level database anchor in pagestore.go.
