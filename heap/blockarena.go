package heap

import "sort"

// blockArena is a non-moving space made of fixed-size blocks. Every object
// starts at a head block followed by tail blocks, so object boundaries can
// be recovered from the block states alone. Marking uses the object header
// (flagVisited) rather than a block state, because marks must survive
// between incremental steps while the mutator runs.
//
// Free space is kept as ranges of free blocks bucketed by length. A request
// pops the shortest range that fits and returns the remainder.
type blockArena struct {
	mem    *memory
	reg    *region
	states []blockState

	byLen map[int][]int // range length -> range start blocks
	lens  []int         // sorted keys of byLen

	used   int // blocks in use
	cursor int // next block to sweep, -1 when not sweeping
}

const (
	wordsPerBlock = 4
	bytesPerBlock = wordsPerBlock * WordSize
)

type blockState uint8

const (
	blockFree blockState = iota
	blockHead
	blockTail
)

func (s blockState) String() string {
	switch s {
	case blockFree:
		return "free"
	case blockHead:
		return "head"
	case blockTail:
		return "tail"
	default:
		return "?"
	}
}

func newBlockArena(mem *memory, name string, size int) *blockArena {
	n := size / bytesPerBlock
	if n < 1 {
		n = 1
	}
	ar := &blockArena{
		mem:    mem,
		reg:    mem.reserve(name, n*bytesPerBlock),
		states: make([]blockState, n),
		byLen:  make(map[int][]int),
		cursor: -1,
	}
	ar.insertFreeRange(0, n)
	return ar
}

func blocksFor(words int) int {
	return (words + wordsPerBlock - 1) / wordsPerBlock
}

func (ar *blockArena) blocks() int          { return len(ar.states) }
func (ar *blockArena) size() int            { return ar.reg.size() }
func (ar *blockArena) usedBytes() int       { return ar.used * bytesPerBlock }
func (ar *blockArena) addr(b int) Addr      { return ar.reg.base + Addr(b*bytesPerBlock) }
func (ar *blockArena) block(a Addr) int     { return int(a-ar.reg.base) / bytesPerBlock }
func (ar *blockArena) contains(a Addr) bool { return ar.reg.contains(a) }

// isHead reports whether a is the start of an allocated object.
func (ar *blockArena) isHead(a Addr) bool {
	if !ar.contains(a) || (a-ar.reg.base)%bytesPerBlock != 0 {
		return false
	}
	return ar.states[ar.block(a)] == blockHead
}

// ---------------------------------------------------------------------------
// Free ranges
// ---------------------------------------------------------------------------

func (ar *blockArena) insertFreeRange(start, n int) {
	if n <= 0 {
		return
	}
	starts, ok := ar.byLen[n]
	if !ok {
		i := sort.SearchInts(ar.lens, n)
		ar.lens = append(ar.lens, 0)
		copy(ar.lens[i+1:], ar.lens[i:])
		ar.lens[i] = n
	}
	ar.byLen[n] = append(starts, start)
}

// popFreeRange removes a range of at least n blocks and returns its first
// block, or -1 when no range is long enough.
func (ar *blockArena) popFreeRange(n int) int {
	i := sort.SearchInts(ar.lens, n)
	if i == len(ar.lens) {
		return -1
	}
	length := ar.lens[i]
	starts := ar.byLen[length]
	start := starts[len(starts)-1]
	if len(starts) == 1 {
		delete(ar.byLen, length)
		ar.lens = append(ar.lens[:i], ar.lens[i+1:]...)
	} else {
		ar.byLen[length] = starts[:len(starts)-1]
	}
	if length > n {
		ar.insertFreeRange(start+n, length-n)
	}
	return start
}

// rebuild recomputes the free ranges from the block states, coalescing
// neighbouring free blocks. It returns the number of free blocks.
func (ar *blockArena) rebuild() int {
	ar.byLen = make(map[int][]int)
	ar.lens = ar.lens[:0]
	free := 0
	for b := 0; b < len(ar.states); {
		if ar.states[b] != blockFree {
			b++
			continue
		}
		start := b
		for b < len(ar.states) && ar.states[b] == blockFree {
			b++
		}
		ar.insertFreeRange(start, b-start)
		free += b - start
	}
	return free
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// alloc returns zeroed space for words words, or 0 if no free range fits.
func (ar *blockArena) alloc(words int) Addr {
	n := blocksFor(words)
	b := ar.popFreeRange(n)
	if b < 0 {
		return 0
	}
	ar.states[b] = blockHead
	for i := b + 1; i < b+n; i++ {
		ar.states[i] = blockTail
	}
	ar.used += n
	a := ar.addr(b)
	ar.mem.zero(a, n*wordsPerBlock)
	return a
}

// grow appends at least size bytes of free blocks.
func (ar *blockArena) grow(size int) {
	n := (size + bytesPerBlock - 1) / bytesPerBlock
	start := len(ar.states)
	ar.mem.grow(ar.reg, n*bytesPerBlock)
	ar.states = append(ar.states, make([]blockState, n)...)
	ar.insertFreeRange(start, n)
}

// objectBlocks returns the number of blocks of the object at head block b.
func (ar *blockArena) objectBlocks(b int) int {
	n := 1
	for b+n < len(ar.states) && ar.states[b+n] == blockTail {
		n++
	}
	return n
}

// free releases the object at a and returns the number of blocks freed.
// The blocks become allocatable after the next rebuild.
func (ar *blockArena) free(a Addr) int {
	b := ar.block(a)
	n := ar.objectBlocks(b)
	for i := b; i < b+n; i++ {
		ar.states[i] = blockFree
	}
	ar.mem.poison(a, n*wordsPerBlock)
	ar.used -= n
	return n
}

// shrink gives the blocks past the first words words of the object at a
// back to the free ranges.
func (ar *blockArena) shrink(a Addr, words int) {
	b := ar.block(a)
	n := ar.objectBlocks(b)
	keep := blocksFor(words)
	if keep >= n {
		return
	}
	for i := b + keep; i < b+n; i++ {
		ar.states[i] = blockFree
	}
	ar.mem.poison(ar.addr(b+keep), (n-keep)*wordsPerBlock)
	ar.used -= n - keep
	ar.insertFreeRange(b+keep, n-keep)
}

// ---------------------------------------------------------------------------
// Walking and sweeping
// ---------------------------------------------------------------------------

// walk calls fn for every allocated object until fn returns false.
func (ar *blockArena) walk(fn func(a Addr) bool) bool {
	for b := 0; b < len(ar.states); b++ {
		if ar.states[b] == blockHead && !fn(ar.addr(b)) {
			return false
		}
	}
	return true
}

func (ar *blockArena) startSweep() { ar.cursor = 0 }

func (ar *blockArena) sweeping() bool { return ar.cursor >= 0 }

// aheadOfSweep reports whether a has not been reached by the running sweep.
func (ar *blockArena) aheadOfSweep(a Addr) bool {
	return ar.cursor >= 0 && ar.block(a) >= ar.cursor
}

// sweepStep examines up to budget blocks. keep decides the fate of each
// object; objects it rejects are freed. sweepStep returns true once the
// whole arena has been swept, after rebuilding the free ranges.
func (ar *blockArena) sweepStep(budget int, keep func(a Addr) bool) (freed int, done bool) {
	for ar.cursor < len(ar.states) {
		if budget <= 0 {
			return freed, false
		}
		b := ar.cursor
		if ar.states[b] != blockHead {
			ar.cursor++
			budget--
			continue
		}
		n := ar.objectBlocks(b)
		a := ar.addr(b)
		if !keep(a) {
			freed += ar.free(a)
		}
		ar.cursor = b + n
		budget -= n
	}
	ar.cursor = -1
	ar.rebuild()
	return freed, true
}
