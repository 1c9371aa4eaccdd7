package heap

// freeRun is one contiguous run of free cells within a small-object chunk.
type freeRun struct {
	addr int64
	len  int64
}

// segregatedFreeList buckets free cell runs by exact length, per §3.6/§4.5.1
// "segregated free list (small chunks)". Allocation prefers an exact-length
// match (no splitting) and otherwise takes the smallest run that still
// fits, splitting the remainder back in - a first-fit-by-ascending-class
// search, not a single linear free list scanned end to end.
type segregatedFreeList struct {
	classes map[int64][]freeRun
}

func newSegregatedFreeList() *segregatedFreeList {
	return &segregatedFreeList{classes: make(map[int64][]freeRun)}
}

func (f *segregatedFreeList) reset() {
	f.classes = make(map[int64][]freeRun)
}

func (f *segregatedFreeList) insert(addr, length int64) {
	if length <= 0 {
		return
	}

	f.classes[length] = append(f.classes[length], freeRun{addr: addr, len: length})
}

// take finds a run of at least n cells, consuming it (and reinserting any
// leftover past the first n cells as a new, smaller free run). ok is false
// if no run anywhere is large enough.
func (f *segregatedFreeList) take(n int64) (addr int64, ok bool) {
	if runs := f.classes[n]; len(runs) > 0 {
		addr = runs[len(runs)-1].addr
		f.classes[n] = runs[:len(runs)-1]

		return addr, true
	}

	bestClass := int64(-1)

	for class, runs := range f.classes {
		if class <= n || len(runs) == 0 {
			continue
		}

		if bestClass == -1 || class < bestClass {
			bestClass = class
		}
	}

	if bestClass == -1 {
		return 0, false
	}

	runs := f.classes[bestClass]
	run := runs[len(runs)-1]
	f.classes[bestClass] = runs[:len(runs)-1]

	remaining := run.len - n
	if remaining > 0 {
		f.insert(run.addr+n, remaining)
	}

	return run.addr, true
}

// allRuns flattens every indexed run, for persistence.
func (f *segregatedFreeList) allRuns() []freeRun {
	var out []freeRun

	for _, runs := range f.classes {
		out = append(out, runs...)
	}

	return out
}
