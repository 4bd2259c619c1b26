package heap

// traceObject calls fn with the address of every reference slot of the
// object at a, using the type's custom hook when one is registered.
func (h *Heap) traceObject(a Addr, fn func(slot Addr)) {
	ti := h.typeAt(a)
	if ti.hook != nil {
		ti.hook(&Tracer{h: h, obj: a, ti: ti, visit: fn})
		return
	}
	for _, w := range ti.desc.RefWords {
		fn(a + Addr((ti.fixedStart+w)*WordSize))
	}
	if ti.hasItemRefs() {
		h.traceItems(a, ti, 0, h.length(a, ti), fn)
	}
}

// traceItems visits the reference words of items [from, to).
func (h *Heap) traceItems(a Addr, ti *typeInfo, from, to int, fn func(slot Addr)) {
	base := a + Addr(ti.itemStart*WordSize)
	stride := ti.desc.ItemWords
	for i := from; i < to; i++ {
		item := base + Addr(i*stride*WordSize)
		for _, w := range ti.desc.ItemRefWords {
			fn(item + Addr(w*WordSize))
		}
	}
}

// Slot is the word offset of a reference field inside an object.
type Slot int

// Trace calls visit for every reference slot of r with the handle it
// currently holds. Slots holding nil are reported with a nil Ref. The
// handles are released once visit returns.
func (h *Heap) Trace(r Ref, visit func(s Slot, target Ref)) {
	type edge struct {
		slot   Slot
		target Ref
	}
	edges := func() []edge {
		h.lock()
		defer h.unlock()
		var out []edge
		a := h.deref(r)
		h.traceObject(a, func(slot Addr) {
			out = append(out, edge{
				slot:   Slot((slot - a) / WordSize),
				target: h.roots.add(h.mem.loadAddr(slot)),
			})
		})
		return out
	}()

	for _, e := range edges {
		visit(e.slot, e.target)
	}

	h.lock()
	defer h.unlock()
	for _, e := range edges {
		h.roots.release(e.target)
	}
}
