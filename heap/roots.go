package heap

import (
	"fmt"
	"slices"
)

// Ref is a handle on a managed object: an index into the heap's root
// table. The zero Ref is nil. The collector rewrites the table whenever it
// moves an object, so a Ref stays valid across collections until it is
// released.
type Ref uint32

// rootSet is the table behind Refs.
type rootSet struct {
	slots []Addr
	live  []bool
	free  []Ref
	count int
}

func newRootSet() rootSet {
	// slot 0 backs the nil Ref
	return rootSet{slots: make([]Addr, 1), live: make([]bool, 1)}
}

func (rs *rootSet) add(a Addr) Ref {
	if a == 0 {
		return 0
	}
	var r Ref
	if n := len(rs.free); n > 0 {
		r = rs.free[n-1]
		rs.free = rs.free[:n-1]
		rs.slots[r] = a
		rs.live[r] = true
	} else {
		r = Ref(len(rs.slots))
		rs.slots = append(rs.slots, a)
		rs.live = append(rs.live, true)
	}
	rs.count++
	return r
}

func (rs *rootSet) get(r Ref) Addr {
	if r == 0 {
		return 0
	}
	if int(r) >= len(rs.slots) || !rs.live[r] {
		panic(fmt.Sprintf("heap: use of released ref %d", r))
	}
	return rs.slots[r]
}

func (rs *rootSet) release(r Ref) {
	if r == 0 || int(r) >= len(rs.slots) || !rs.live[r] {
		return
	}
	rs.slots[r] = 0
	rs.live[r] = false
	rs.free = append(rs.free, r)
	rs.count--
}

// each calls fn for every live root slot.
func (rs *rootSet) each(fn func(slot *Addr)) {
	for i := 1; i < len(rs.slots); i++ {
		if rs.live[i] && rs.slots[i] != 0 {
			fn(&rs.slots[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// Scope releases a group of handles together. Only handles created
// through the scope (Allocate, Load, LoadItem, Dup) or handed to Own
// belong to it, so mutators on other goroutines keep theirs. A Scope
// itself belongs to one goroutine.
type Scope struct {
	h      *Heap
	owned  []Ref
	keep   map[Ref]bool
	closed bool
}

// NewScope opens a handle scope.
func (h *Heap) NewScope() *Scope {
	return &Scope{h: h}
}

// Own adds r to the scope and returns it.
func (s *Scope) Own(r Ref) Ref {
	if r != 0 {
		s.owned = append(s.owned, r)
	}
	return r
}

// Allocate is Heap.Allocate with the new handle owned by the scope.
func (s *Scope) Allocate(id TypeID, length int) (Ref, error) {
	r, err := s.h.Allocate(id, length)
	return s.Own(r), err
}

// Load is Heap.Load with the new handle owned by the scope.
func (s *Scope) Load(r Ref, i int) Ref {
	return s.Own(s.h.Load(r, i))
}

// LoadItem is Heap.LoadItem with the new handle owned by the scope.
func (s *Scope) LoadItem(r Ref, i, j int) Ref {
	return s.Own(s.h.LoadItem(r, i, j))
}

// Dup is Heap.Dup with the new handle owned by the scope.
func (s *Scope) Dup(r Ref) Ref {
	return s.Own(s.h.Dup(r))
}

// Release drops one of the scope's handles before Close. Handles owned by
// a scope must be released through it: a slot freed behind its back may
// be reused by another handle that Close would then release.
func (s *Scope) Release(r Ref) {
	if i := slices.Index(s.owned, r); i >= 0 {
		s.owned = slices.Delete(s.owned, i, i+1)
		delete(s.keep, r)
		s.h.Release(r)
	}
}

// Escape keeps r alive past Close.
func (s *Scope) Escape(r Ref) {
	if r == 0 {
		return
	}
	if s.keep == nil {
		s.keep = make(map[Ref]bool)
	}
	s.keep[r] = true
}

// Close releases the scope's handles and returns the escaped ones that are
// still live, in the order the scope acquired them.
func (s *Scope) Close() []Ref {
	if s.closed {
		return nil
	}
	s.closed = true
	h := s.h
	h.lock()
	defer h.unlock()
	var out []Ref
	for _, r := range s.owned {
		if !s.keep[r] {
			h.roots.release(r)
			continue
		}
		if int(r) < len(h.roots.live) && h.roots.live[r] {
			out = append(out, r)
			delete(s.keep, r)
		}
	}
	s.owned = nil
	return out
}

// ---------------------------------------------------------------------------
// Handle operations
// ---------------------------------------------------------------------------

// Release drops a handle. Releasing nil or an already released Ref is a
// no-op.
func (h *Heap) Release(r Ref) {
	h.lock()
	defer h.unlock()
	h.roots.release(r)
}

// Dup returns a second handle on the object behind r.
func (h *Heap) Dup(r Ref) Ref {
	h.lock()
	defer h.unlock()
	return h.roots.add(h.roots.get(r))
}

// Same reports whether two handles refer to the same object.
func (h *Heap) Same(a, b Ref) bool {
	h.lock()
	defer h.unlock()
	return h.roots.get(a) == h.roots.get(b)
}

// Addr returns the current address of the object behind r. The address is
// only stable until the next collector work.
func (h *Heap) Addr(r Ref) Addr {
	h.lock()
	defer h.unlock()
	return h.roots.get(r)
}

func (h *Heap) deref(r Ref) Addr {
	a := h.roots.get(r)
	if a == 0 {
		panic(fmt.Sprintf("heap: %v", ErrNilRef))
	}
	return a
}
