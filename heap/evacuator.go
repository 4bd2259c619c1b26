package heap

// evacuator computes the transitive closure of the roots over the part of
// the heap being collected. Every collection is expressed with one:
//
//   - covers selects the addresses the collection is responsible for;
//     everything else is assumed alive and is not traced through.
//   - promote picks the destination and header of a copy. Returning a zero
//     address keeps the object in place, marked with flagVisited.
//
// A copying collection leaves flagForwarded and the new address (in word
// 1) behind in every evacuated object. A marking collection just sets
// flagVisited.
type evacuator struct {
	h       *Heap
	covers  func(a Addr) bool
	promote func(a Addr, words int, hdr header) (Addr, header)
	onSlot  func(container, target Addr)

	work    []Addr
	inPlace []Addr
	scanned int

	cur   Addr
	visit func(slot Addr)
}

func newEvacuator(h *Heap, covers func(Addr) bool, promote func(Addr, int, header) (Addr, header)) *evacuator {
	e := &evacuator{h: h, covers: covers, promote: promote}
	e.visit = e.visitSlot
	return e
}

// inPlace is a promote function for non-moving collections.
func inPlace(Addr, int, header) (Addr, header) { return 0, 0 }

// evacuate returns the post-collection address of the covered object p,
// copying or marking it on first contact.
func (e *evacuator) evacuate(p Addr) Addr {
	h := e.h
	hdr := h.header(p)
	if hdr.has(flagForwarded) {
		return h.mem.loadAddr(p + WordSize)
	}
	if hdr.has(flagVisited) {
		return p
	}
	words := h.objectWords(p)
	dst, nh := e.promote(p, words, hdr)
	if dst == 0 {
		h.setHeader(p, hdr.with(flagVisited))
		e.work = append(e.work, p)
		e.inPlace = append(e.inPlace, p)
		return p
	}
	h.mem.copyWords(dst, p, words)
	h.setHeader(dst, nh)
	h.setHeader(p, hdr.with(flagForwarded))
	h.mem.storeAddr(p+WordSize, dst)
	e.work = append(e.work, dst)
	return dst
}

// visitRoot processes a reference held outside the heap.
func (e *evacuator) visitRoot(p Addr) Addr {
	if p == 0 || !e.covers(p) {
		return p
	}
	return e.evacuate(p)
}

func (e *evacuator) visitSlot(slot Addr) {
	mem := e.h.mem
	p := mem.loadAddr(slot)
	if p == 0 || !e.covers(p) {
		return
	}
	np := e.evacuate(p)
	if np != p {
		mem.storeAddr(slot, np)
	}
	if e.onSlot != nil {
		e.onSlot(e.cur, np)
	}
}

// scan traces every reference slot of a.
func (e *evacuator) scan(a Addr) {
	prev := e.cur
	e.cur = a
	e.h.traceObject(a, e.visit)
	e.cur = prev
	e.scanned++
}

// scanItems traces the reference words of items [from, to) of a.
func (e *evacuator) scanItems(a Addr, from, to int) {
	prev := e.cur
	e.cur = a
	e.h.traceItems(a, e.h.typeAt(a), from, to, e.visit)
	e.cur = prev
}

// drain scans queued objects, at most budget of them when budget is
// positive. It reports whether the work list is empty.
func (e *evacuator) drain(budget int) bool {
	for n := 0; len(e.work) > 0; n++ {
		if budget > 0 && n >= budget {
			return false
		}
		last := len(e.work) - 1
		a := e.work[last]
		e.work = e.work[:last]
		if hdr := e.h.header(a); hdr.has(flagGray) {
			e.h.setHeader(a, hdr.without(flagGray))
		}
		e.scan(a)
	}
	return true
}

// ---------------------------------------------------------------------------
// Liveness queries, valid once the closure is complete
// ---------------------------------------------------------------------------

// survives reports whether a outlives the collection. Addresses outside
// the collected area always survive.
func (e *evacuator) survives(a Addr) bool {
	if !e.covers(a) {
		return true
	}
	return e.h.header(a).has(flagForwarded | flagVisited)
}

// forward maps a surviving address to its post-collection address.
func (e *evacuator) forward(a Addr) Addr {
	if !e.covers(a) {
		return a
	}
	if e.h.header(a).has(flagForwarded) {
		return e.h.mem.loadAddr(a + WordSize)
	}
	return a
}

// keepAlive resurrects a and everything reachable from it.
func (e *evacuator) keepAlive(a Addr) Addr {
	if !e.covers(a) {
		return a
	}
	na := e.evacuate(a)
	e.drain(-1)
	return na
}
