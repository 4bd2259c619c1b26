package heap

// afterTrace runs once the closure of the roots is complete and before any
// memory is released. The order matters:
//
//  1. weakrefs whose target is unreachable are recorded,
//  2. finalizable objects are resurrected and queued (major) or dragged
//     out of the nursery (minor),
//  3. recorded weakrefs are cleared, the others follow their targets,
//  4. light finalizers run for objects that are still dead,
//  5. address-keyed side tables are forwarded or pruned.
//
// Clearing weakrefs from the set computed before step 2 means that a
// weakref never resolves to an object waiting in a finalizer queue.
func (h *Heap) afterTrace(e *evacuator, major bool) {
	weak := h.findLostWeakrefs(e)
	if major {
		h.orderFinalizers(e)
	} else {
		h.dragOutFinalizers(e)
	}
	h.fixWeakrefs(e, weak)
	h.runLightFinalizers(e)
	h.forwardSideTables(e)
}

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------

type weakState struct {
	w    Addr
	lost bool
}

func (h *Heap) weakTarget(e *evacuator, w Addr) Addr {
	// word 1 of a forwarded weakref holds the forwarding address, so the
	// target has to be read from the copy.
	if e.covers(w) && e.survives(w) {
		w = e.forward(w)
	}
	return h.mem.loadAddr(w + WordSize)
}

func (h *Heap) findLostWeakrefs(e *evacuator) []weakState {
	out := make([]weakState, 0, len(h.weakrefs))
	for _, w := range h.weakrefs {
		t := h.weakTarget(e, w)
		out = append(out, weakState{w: w, lost: t != 0 && !e.survives(t)})
	}
	return out
}

func (h *Heap) fixWeakrefs(e *evacuator, weak []weakState) {
	kept := h.weakrefs[:0]
	for _, ws := range weak {
		if !e.survives(ws.w) {
			continue
		}
		nw := e.forward(ws.w)
		slot := nw + WordSize
		switch t := h.mem.loadAddr(slot); {
		case ws.lost:
			h.mem.storeAddr(slot, 0)
			h.stats.WeakrefsCleared++
		case t != 0:
			h.mem.storeAddr(slot, e.forward(t))
		}
		kept = append(kept, nw)
	}
	h.weakrefs = kept
}

// ---------------------------------------------------------------------------
// Finalizer ordering
// ---------------------------------------------------------------------------

// Finalization states of an object during a major collection:
//
//	0  unreachable, not reachable from a finalizable object
//	1  unreachable, reachable from a finalizable object
//	2  resurrected, reachable from a finalizable object
//	3  alive
//
// An object whose finalizer can run ends up in state 2 only if no other
// finalizable object reaches it, so finalizers run dependents first and
// cycles of finalizable objects are still queued.
func (h *Heap) finalizationState(e *evacuator, a Addr) int {
	if e.survives(a) {
		if h.header(e.forward(a)).has(flagFinalizationOrdering) {
			return 2
		}
		return 3
	}
	if h.header(a).has(flagFinalizationOrdering) {
		return 1
	}
	return 0
}

func (h *Heap) orderFinalizers(e *evacuator) {
	var kept, marked []finReg
	var pending []Addr
	for _, r := range h.finRegs {
		if e.survives(r.a) {
			kept = append(kept, finReg{a: e.forward(r.a), q: r.q})
			continue
		}
		if h.header(r.a).has(flagIgnoreFinalizer) {
			continue
		}
		marked = append(marked, r)
		pending = append(pending[:0], r.a)
		for len(pending) > 0 {
			y := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			switch h.finalizationState(e, y) {
			case 0:
				h.setFlag(y, flagFinalizationOrdering)
				h.traceObject(y, func(slot Addr) {
					if p := h.mem.loadAddr(slot); p != 0 {
						pending = append(pending, p)
					}
				})
			case 2:
				h.clearOrdering(e.forward(y))
			}
		}
		// state 1 -> 2
		e.keepAlive(r.a)
	}

	for _, r := range marked {
		na := e.forward(r.a)
		if h.finalizationState(e, r.a) == 2 {
			h.clearFlag(na, flagHasFinalizer)
			r.q.push(na)
			h.stats.FinalizersQueued++
			h.clearOrdering(na)
		} else {
			kept = append(kept, finReg{a: na, q: r.q})
		}
	}
	h.finRegs = kept
}

// clearOrdering moves a and everything reachable from it from state 2 to
// state 3.
func (h *Heap) clearOrdering(a Addr) {
	stack := []Addr{a}
	for len(stack) > 0 {
		y := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		hdr := h.header(y)
		if !hdr.has(flagFinalizationOrdering) {
			continue
		}
		h.setHeader(y, hdr.without(flagFinalizationOrdering))
		h.traceObject(y, func(slot Addr) {
			if p := h.mem.loadAddr(slot); p != 0 {
				stack = append(stack, p)
			}
		})
	}
}

// dragOutFinalizers keeps young finalizable objects alive through a minor
// collection. Their finalizers only run after a major collection.
func (h *Heap) dragOutFinalizers(e *evacuator) {
	for i, r := range h.finRegs {
		if e.covers(r.a) {
			h.finRegs[i].a = e.keepAlive(r.a)
		}
	}
}

// ---------------------------------------------------------------------------
// Light finalizers
// ---------------------------------------------------------------------------

func (h *Heap) runLightFinalizers(e *evacuator) {
	kept := h.lightObjs[:0]
	for _, a := range h.lightObjs {
		if e.survives(a) {
			kept = append(kept, e.forward(a))
			continue
		}
		ti := h.typeAt(a)
		h.runLight(ti, View{mem: h.mem, obj: a, ti: ti, n: h.length(a, ti)})
	}
	h.lightObjs = kept
}

func (h *Heap) runLight(ti *typeInfo, v View) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("light finalizer for %s panicked: %v", ti.desc.Name, r)
		}
	}()
	ti.light(v)
}

// ---------------------------------------------------------------------------
// Side tables
// ---------------------------------------------------------------------------

// forwardTable rekeys m after a collection, calling drop for entries
// whose key died.
func forwardTable[V any](e *evacuator, m map[Addr]V, drop func(a Addr, v V)) map[Addr]V {
	out := make(map[Addr]V, len(m))
	for a, v := range m {
		if !e.survives(a) {
			if drop != nil {
				drop(a, v)
			}
			continue
		}
		out[e.forward(a)] = v
	}
	return out
}

func (h *Heap) forwardSideTables(e *evacuator) {
	h.hashes = forwardTable(e, h.hashes, nil)
	h.pins = forwardTable(e, h.pins, nil)
	h.pressure = forwardTable(e, h.pressure, func(_ Addr, n int64) {
		h.external -= n
	})
}
