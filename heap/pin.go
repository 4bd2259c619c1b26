package heap

// Pin forbids the collector from moving r's object until the matching
// Unpin. Pins nest. Pin returns false when the collector does not support
// pinning or MaxPinned distinct objects are already pinned. A pinned
// object that becomes unreachable is still reclaimed.
func (h *Heap) Pin(r Ref) bool {
	h.lock()
	defer h.unlock()
	if !h.gc.pinnable() {
		return false
	}
	a := h.deref(r)
	if n, ok := h.pins[a]; ok {
		h.pins[a] = n + 1
		return true
	}
	if len(h.pins) >= h.cfg.MaxPinned {
		return false
	}
	h.pins[a] = 1
	h.setFlag(a, flagPinned)
	return true
}

// Unpin releases one pin on r's object.
func (h *Heap) Unpin(r Ref) {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	n, ok := h.pins[a]
	if !ok {
		return
	}
	if n > 1 {
		h.pins[a] = n - 1
		return
	}
	delete(h.pins, a)
	h.clearFlag(a, flagPinned)
}

// IsPinned reports whether r's object is pinned. Intended for debugging.
func (h *Heap) IsPinned(r Ref) bool {
	h.lock()
	defer h.unlock()
	_, ok := h.pins[h.deref(r)]
	return ok
}

// CanMove reports whether a later collection may relocate r's object.
func (h *Heap) CanMove(r Ref) bool {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	if h.header(a).has(flagPinned) {
		return false
	}
	return h.gc.canMove(a)
}
