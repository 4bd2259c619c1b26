package heap

import "fmt"

// Verify checks the heap for consistency: every object reachable from the
// roots must start at an object boundary, carry a registered type and no
// forwarding mark, and every weak reference must hold nil or a valid
// object. It returns an error wrapping ErrCorrupt describing the first
// problem found. Verify does not collect.
func (h *Heap) Verify() error {
	h.lock()
	defer h.unlock()

	starts := make(map[Addr]bool)
	var bad error
	h.gc.walk(func(a Addr) bool {
		if err := h.verifyHeader(a); err != nil {
			bad = err
			return false
		}
		starts[a] = true
		return true
	})
	if bad != nil {
		return bad
	}

	check := func(from, p Addr) error {
		if !starts[p] {
			return fmt.Errorf("heap: verify: %#x -> %#x: not an object: %w", uint64(from), uint64(p), ErrCorrupt)
		}
		return nil
	}
	seen := make(map[Addr]bool)
	var stack []Addr
	for _, a := range h.rootAddrs() {
		if err := check(0, a); err != nil {
			return err
		}
		if !seen[a] {
			seen[a] = true
			stack = append(stack, a)
		}
	}
	for len(stack) > 0 && bad == nil {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h.traceObject(a, func(slot Addr) {
			p := h.mem.loadAddr(slot)
			if p == 0 || bad != nil {
				return
			}
			if bad = check(a, p); bad == nil && !seen[p] {
				seen[p] = true
				stack = append(stack, p)
			}
		})
	}
	if bad != nil {
		return bad
	}

	for _, w := range h.weakrefs {
		if !starts[w] {
			return fmt.Errorf("heap: verify: weakref %#x is not an object: %w", uint64(w), ErrCorrupt)
		}
		if t := h.mem.loadAddr(w + WordSize); t != 0 && seen[w] {
			if err := check(w, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Heap) verifyHeader(a Addr) error {
	hdr := h.header(a)
	tid := hdr.typeID()
	if tid == typeNone || int(tid) >= len(h.types) {
		return fmt.Errorf("heap: verify: %#x: bad type %d: %w", uint64(a), tid, ErrCorrupt)
	}
	if hdr.has(flagForwarded) {
		return fmt.Errorf("heap: verify: %#x: forwarded object left in a live space: %w", uint64(a), ErrCorrupt)
	}
	return nil
}
