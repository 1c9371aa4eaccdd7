package engine

// bufferPool is a bounded pool of reusable, unowned block-sized buffer
// allocations (§3.2 "block pool"), avoiding a heap allocation on every
// eviction/re-pin cycle. It is a plain LIFO slice rather than sync.Pool
// because the engine is single-threaded (§5) and a LIFO stack keeps recently
// freed buffers - still hot in cache - at the front.
type bufferPool struct {
	blockSize int
	maxItems  int
	free      [][]byte
}

func newBufferPool(blockSize, maxItems int) *bufferPool {
	return &bufferPool{blockSize: blockSize, maxItems: maxItems}
}

// get returns a block-sized buffer, reusing a pooled one when available.
func (p *bufferPool) get() []byte {
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]

		return buf
	}

	return make([]byte, p.blockSize)
}

// put returns buf to the pool for reuse, dropping it if the pool is full.
func (p *bufferPool) put(buf []byte) {
	if len(p.free) >= p.maxItems {
		return
	}

	p.free = append(p.free, buf)
}
