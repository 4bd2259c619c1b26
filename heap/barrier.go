package heap

// ---------------------------------------------------------------------------
// Write barrier
// ---------------------------------------------------------------------------

// Old objects carry flagTrackYoungPtrs until a store into them is
// recorded. The fast path is a single header test; the slow path clears
// the flag and appends the object to the remembered set, which the next
// minor collection scans and then re-arms.
//
// Large arrays (flagHasCards) record one bit per card instead, so a minor
// collection only rescans the items of dirty cards.

// WriteBarrier records that value is about to be stored into container.
// Store calls it implicitly.
func (h *Heap) WriteBarrier(container, value Ref) {
	h.lock()
	defer h.unlock()
	h.writeBarrier(h.deref(container), h.roots.get(value))
}

// WriteBarrierFromArray records that value is about to be stored into item
// index of container. StoreItem calls it implicitly.
func (h *Heap) WriteBarrierFromArray(container Ref, index int, value Ref) {
	h.lock()
	defer h.unlock()
	h.writeBarrierFromArray(h.deref(container), index, h.roots.get(value))
}

// NeedsWriteBarrier reports whether storing value requires a barrier. Nil
// never does, and neither does anything on a heap without generations.
func (h *Heap) NeedsWriteBarrier(value Ref) bool {
	return value != 0 && h.gc.hasBarrier()
}

func (h *Heap) writeBarrier(container, value Addr) {
	if value == 0 {
		return
	}
	hdr := h.header(container)
	if !hdr.has(flagTrackYoungPtrs) {
		return
	}
	h.setHeader(container, hdr.without(flagTrackYoungPtrs))
	h.remembered = append(h.remembered, container)
	h.gc.regray(container)
}

func (h *Heap) writeBarrierFromArray(container Addr, index int, value Addr) {
	if value == 0 {
		return
	}
	hdr := h.header(container)
	if !hdr.has(flagHasCards) {
		h.writeBarrier(container, value)
		return
	}
	if !hdr.has(flagTrackYoungPtrs) {
		return
	}
	card := index / h.cfg.CardPageItems
	bits := h.cards[container]
	if bits == nil {
		n := h.length(container, h.typeAt(container))
		cards := (n + h.cfg.CardPageItems - 1) / h.cfg.CardPageItems
		bits = make([]uint64, (cards+63)/64)
		h.cards[container] = bits
	}
	mask := uint64(1) << (card % 64)
	if bits[card/64]&mask != 0 {
		return
	}
	bits[card/64] |= mask
	if !hdr.has(flagCardsSet) {
		h.setHeader(container, hdr.with(flagCardsSet))
		h.cardObjects = append(h.cardObjects, container)
	}
	h.gc.regray(container)
}

// ---------------------------------------------------------------------------
// Minor collection side
// ---------------------------------------------------------------------------

// traceOldToYoung scans every old object that may hold young pointers:
// remembered objects in full, card-marked arrays over their dirty cards,
// and old objects pointing at pinned nursery survivors. All of them are
// re-armed afterwards.
func (h *Heap) traceOldToYoung(e *evacuator) {
	rem := h.remembered
	h.remembered = nil
	for _, a := range rem {
		e.scan(a)
		h.setFlag(a, flagTrackYoungPtrs)
	}

	carded := h.cardObjects
	h.cardObjects = nil
	page := h.cfg.CardPageItems
	for _, a := range carded {
		bits := h.cards[a]
		delete(h.cards, a)
		n := h.length(a, h.typeAt(a))
		for c := 0; c*page < n; c++ {
			if c/64 < len(bits) && bits[c/64]&(1<<(c%64)) != 0 {
				e.scanItems(a, c*page, min((c+1)*page, n))
			}
		}
		h.clearFlag(a, flagCardsSet)
	}

	pinned := h.oldToPinned
	h.oldToPinned = nil
	for _, a := range pinned {
		e.scan(a)
	}
}

// resetBarrier forgets all recorded stores. It is called when a collection
// leaves the nursery empty and every old object re-armed.
func (h *Heap) resetBarrier() {
	h.remembered = nil
	h.cardObjects = nil
	h.oldToPinned = nil
	clear(h.cards)
}

// filterBarrier drops recorded objects that did not survive marking.
func (h *Heap) filterBarrier(alive func(a Addr) bool) {
	h.remembered = filterAddrs(h.remembered, alive)
	h.oldToPinned = filterAddrs(h.oldToPinned, alive)
	h.cardObjects = filterAddrs(h.cardObjects, alive)
	for a := range h.cards {
		if !alive(a) {
			delete(h.cards, a)
		}
	}
}

func filterAddrs(s []Addr, keep func(a Addr) bool) []Addr {
	out := s[:0]
	for _, a := range s {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
