package heap

// AddMemoryPressure accounts bytes of memory held outside the heap by
// owner's object against the major collection threshold. The bytes are
// forgotten when owner is collected. A nil owner charges the heap as a
// whole.
func (h *Heap) AddMemoryPressure(bytes int64, owner Ref) {
	h.lock()
	defer h.unlock()
	if bytes <= 0 {
		return
	}
	if owner != 0 {
		h.pressure[h.deref(owner)] += bytes
	}
	h.external += bytes
	h.pressureSinceMajor += bytes
	if h.gc.majorDue() {
		log.Debugf("memory pressure %d bytes, requesting major collection", h.external)
		h.gc.requestMajor()
	}
}

// ExternalMemory returns the bytes currently accounted through
// AddMemoryPressure.
func (h *Heap) ExternalMemory() int64 {
	h.lock()
	defer h.unlock()
	return h.external
}
