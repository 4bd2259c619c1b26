package heap

import "slices"

// span is a half-open address range.
type span struct{ start, end Addr }

// ---------------------------------------------------------------------------
// Bump spaces
// ---------------------------------------------------------------------------

// bumpSpace is a region filled from the bottom up and never reused in
// place. Semispaces and the generational old space are bump spaces; a
// collection copies the survivors into a fresh one.
type bumpSpace struct {
	reg *region
	top Addr
}

func newBumpSpace(mem *memory, name string, size int) *bumpSpace {
	reg := mem.reserve(name, size)
	return &bumpSpace{reg: reg, top: reg.base}
}

// alloc returns space for words words, or 0 when the space is full.
// Fresh regions are zeroed, so the space needs no clearing.
func (s *bumpSpace) alloc(words int) Addr {
	size := Addr(words * WordSize)
	if s.top+size > s.reg.end() {
		return 0
	}
	a := s.top
	s.top += size
	return a
}

func (s *bumpSpace) contains(a Addr) bool { return a >= s.reg.base && a < s.top }
func (s *bumpSpace) used() int            { return int(s.top - s.reg.base) }
func (s *bumpSpace) free() int            { return int(s.reg.end() - s.top) }
func (s *bumpSpace) size() int            { return s.reg.size() }

// ---------------------------------------------------------------------------
// Nursery
// ---------------------------------------------------------------------------

// nursery is the young generation. It is a bump space that is emptied by
// every minor collection, except for pinned survivors which stay in place
// and split the free space into segments.
type nursery struct {
	mem  *memory
	reg  *region
	segs []span
	tops []Addr
	cur  int
	top  Addr
	lim  Addr

	pinned    []Addr
	allocated int
}

func newNursery(mem *memory, size int) *nursery {
	n := &nursery{mem: mem, reg: mem.reserve("nursery", size)}
	n.reset(nil, nil)
	return n
}

func (n *nursery) contains(a Addr) bool { return n.reg.contains(a) }
func (n *nursery) size() int            { return n.reg.size() }

// alloc bumps within the current segment, moving on to the next segment
// when it does not fit. It returns 0 when the nursery is full.
func (n *nursery) alloc(words int) Addr {
	size := Addr(words * WordSize)
	for n.top+size > n.lim {
		if n.cur+1 >= len(n.segs) {
			return 0
		}
		n.tops[n.cur] = n.top
		n.cur++
		n.top, n.lim = n.segs[n.cur].start, n.segs[n.cur].end
	}
	a := n.top
	n.top += size
	n.allocated += int(size)
	n.mem.zero(a, words)
	return a
}

// reset empties the nursery around the given pinned survivors.
func (n *nursery) reset(pinned []Addr, sizeOf func(Addr) int) {
	slices.Sort(pinned)
	n.pinned = pinned
	n.segs = n.segs[:0]
	start := n.reg.base
	for _, p := range pinned {
		if p > start {
			n.segs = append(n.segs, span{start, p})
		}
		start = p + Addr(sizeOf(p)*WordSize)
	}
	if start < n.reg.end() {
		n.segs = append(n.segs, span{start, n.reg.end()})
	}
	if len(n.segs) == 0 {
		n.segs = append(n.segs, span{n.reg.end(), n.reg.end()})
	}
	n.tops = n.tops[:0]
	for _, s := range n.segs {
		n.mem.poison(s.start, int(s.end-s.start)/WordSize)
		n.tops = append(n.tops, s.start)
	}
	n.cur = 0
	n.top, n.lim = n.segs[0].start, n.segs[0].end
	n.allocated = 0
}

// allocatedSpans returns the ranges holding objects allocated since the
// last reset.
func (n *nursery) allocatedSpans() []span {
	out := make([]span, 0, n.cur+1)
	for i := 0; i < n.cur; i++ {
		out = append(out, span{n.segs[i].start, n.tops[i]})
	}
	return append(out, span{n.segs[n.cur].start, n.top})
}

// ---------------------------------------------------------------------------
// Walking bump-allocated memory
// ---------------------------------------------------------------------------

// walkSpan calls fn for every object in [s.start, s.end), skipping fillers.
func (h *Heap) walkSpan(s span, fn func(a Addr) bool) bool {
	for a := s.start; a < s.end; {
		tid := h.header(a).typeID()
		words := h.objectWords(a)
		if tid != typeFiller && tid != typeFiller1 && !fn(a) {
			return false
		}
		a += Addr(words * WordSize)
	}
	return true
}

func (h *Heap) walkNursery(n *nursery, fn func(a Addr) bool) bool {
	for _, s := range n.allocatedSpans() {
		if !h.walkSpan(s, fn) {
			return false
		}
	}
	for _, p := range n.pinned {
		if !fn(p) {
			return false
		}
	}
	return true
}

// writeFiller formats words words at a as a dead gap.
func (h *Heap) writeFiller(a Addr, words int) {
	switch {
	case words <= 0:
	case words == 1:
		h.setHeader(a, makeHeader(typeFiller1, 0))
	default:
		h.setHeader(a, makeHeader(typeFiller, 0))
		h.mem.store(a+WordSize, uint64(words-2))
		h.mem.poison(a+2*WordSize, words-2)
	}
}
