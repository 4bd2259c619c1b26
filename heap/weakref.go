package heap

import "fmt"

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------

// A weak reference is a managed object of the builtin weakref type. Its
// single field holds the target but is not traced, so it does not keep the
// target alive. Every collection either updates the field to the target's
// new address or clears it.

// MakeWeak creates a weak reference to r's object.
func (h *Heap) MakeWeak(r Ref) (Ref, error) {
	h.lock()
	defer h.unlock()
	h.deref(r)
	w, err := h.allocate(h.types[typeWeakref], 0)
	if err != nil {
		return 0, fmt.Errorf("heap: make weak: %w", err)
	}
	// the allocation may have moved the target
	h.mem.storeAddr(w+WordSize, h.roots.get(r))
	h.weakrefs = append(h.weakrefs, w)
	return h.roots.add(w), nil
}

// Resolve returns a handle on the target of weak, or nil once the target
// has been collected.
func (h *Heap) Resolve(weak Ref) Ref {
	h.lock()
	defer h.unlock()
	w := h.deref(weak)
	if h.header(w).typeID() != typeWeakref {
		panic(fmt.Sprintf("heap: resolve: ref %d is not a weak reference", weak))
	}
	return h.roots.add(h.mem.loadAddr(w + WordSize))
}

// IsWeakref reports whether r is a weak reference.
func (h *Heap) IsWeakref(r Ref) bool {
	h.lock()
	defer h.unlock()
	a := h.roots.get(r)
	return a != 0 && h.header(a).typeID() == typeWeakref
}

// WeakrefCount returns the number of live weak references.
func (h *Heap) WeakrefCount() int {
	h.lock()
	defer h.unlock()
	return len(h.weakrefs)
}
