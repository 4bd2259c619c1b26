package heap

// ---------------------------------------------------------------------------
// Heap introspection
// ---------------------------------------------------------------------------

// Roots returns a fresh handle on every object held by a root: a handle
// or a finalizer queue. Each object appears once. The caller owns the
// returned handles.
func (h *Heap) Roots() []Ref {
	h.lock()
	defer h.unlock()
	addrs := h.rootAddrs()
	out := make([]Ref, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, h.roots.add(a))
	}
	return out
}

func (h *Heap) rootAddrs() []Addr {
	seen := make(map[Addr]bool)
	var out []Addr
	add := func(a Addr) {
		if a != 0 && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	h.roots.each(func(slot *Addr) { add(*slot) })
	for _, q := range h.queues {
		for _, a := range q.dead {
			add(a)
		}
	}
	return out
}

// Referents returns a fresh handle on every object r's object refers to,
// in slot order. Nil slots are skipped; weak targets are not included.
func (h *Heap) Referents(r Ref) []Ref {
	h.lock()
	defer h.unlock()
	var out []Ref
	h.traceObject(h.deref(r), func(slot Addr) {
		if p := h.mem.loadAddr(slot); p != 0 {
			out = append(out, h.roots.add(p))
		}
	})
	return out
}

// MemoryUsage returns the number of heap bytes occupied by r's object.
func (h *Heap) MemoryUsage(r Ref) int {
	h.lock()
	defer h.unlock()
	return h.objectWords(h.deref(r)) * WordSize
}

// TypeIndex returns the type of r's object.
func (h *Heap) TypeIndex(r Ref) TypeID {
	h.lock()
	defer h.unlock()
	return h.header(h.deref(r)).typeID()
}

// ObjectInfo describes one object reported by Walk.
type ObjectInfo struct {
	Addr     Addr
	Type     TypeID
	TypeName string
	Size     int
	Len      int
	// Refs holds the non-nil outgoing references in slot order.
	Refs   []Addr
	Root   bool
	Young  bool
	Pinned bool
}

// Walk completes a full collection and then calls fn for every object
// left in the heap until fn returns false. fn runs with the heap locked
// and must not call back into the heap.
func (h *Heap) Walk(fn func(ObjectInfo) bool) {
	h.lock()
	defer h.unlock()
	h.collectAll()
	roots := make(map[Addr]bool)
	for _, a := range h.rootAddrs() {
		roots[a] = true
	}
	h.gc.walk(func(a Addr) bool {
		return fn(h.objectInfo(a, roots[a]))
	})
}

func (h *Heap) objectInfo(a Addr, root bool) ObjectInfo {
	ti := h.typeAt(a)
	info := ObjectInfo{
		Addr:     a,
		Type:     ti.id,
		TypeName: ti.desc.Name,
		Size:     h.objectWords(a) * WordSize,
		Len:      h.length(a, ti),
		Root:     root,
		Young:    h.gc.isYoung(a),
		Pinned:   h.header(a).has(flagPinned),
	}
	h.traceObject(a, func(slot Addr) {
		if p := h.mem.loadAddr(slot); p != 0 {
			info.Refs = append(info.Refs, p)
		}
	})
	return info
}

// Count returns the number of objects in the heap, dead or alive. It does
// not collect.
func (h *Heap) Count() int {
	h.lock()
	defer h.unlock()
	n := 0
	h.gc.walk(func(Addr) bool {
		n++
		return true
	})
	return n
}
