package heap

import "fmt"

// ---------------------------------------------------------------------------
// Object geometry
// ---------------------------------------------------------------------------

func (h *Heap) typeAt(a Addr) *typeInfo {
	tid := h.header(a).typeID()
	if tid == typeNone || int(tid) >= len(h.types) {
		panic(fmt.Sprintf("heap: corrupt header at %#x (type %d)", uint64(a), tid))
	}
	return h.types[tid]
}

func (h *Heap) length(a Addr, ti *typeInfo) int {
	if !ti.desc.Varsized {
		return 0
	}
	return int(h.mem.load(a + WordSize))
}

// objectWords returns the size of the object at a. It must not be called
// on a forwarded object.
func (h *Heap) objectWords(a Addr) int {
	ti := h.typeAt(a)
	return ti.words(h.length(a, ti))
}

func (h *Heap) fieldAddr(a Addr, ti *typeInfo, i int) Addr {
	if i < 0 || i >= ti.desc.FixedWords {
		panic(fmt.Sprintf("heap: field %d out of range for %s", i, ti.desc.Name))
	}
	return a + Addr((ti.fixedStart+i)*WordSize)
}

func (h *Heap) itemAddr(a Addr, ti *typeInfo, i, j int) Addr {
	if i < 0 || i >= h.length(a, ti) || j < 0 || j >= ti.desc.ItemWords {
		panic(fmt.Sprintf("heap: item %d/%d out of range for %s", i, j, ti.desc.Name))
	}
	return a + Addr((ti.itemStart+i*ti.desc.ItemWords+j)*WordSize)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate creates an object of the given type. length is the item count
// of a varsized type and must be zero otherwise. All fields start out as
// zero (nil references). Allocate never returns a nil Ref with a nil
// error; when memory cannot be found after collecting and growing it
// returns an error wrapping ErrOutOfMemory.
func (h *Heap) Allocate(id TypeID, length int) (Ref, error) {
	h.lock()
	defer h.unlock()
	ti, err := h.typeInfo(id)
	if err != nil {
		return 0, err
	}
	a, err := h.allocate(ti, length)
	if err != nil {
		return 0, err
	}
	return h.roots.add(a), nil
}

// MustAllocate is like Allocate but panics on error.
func (h *Heap) MustAllocate(id TypeID, length int) Ref {
	r, err := h.Allocate(id, length)
	if err != nil {
		panic(err)
	}
	return r
}

func (h *Heap) allocate(ti *typeInfo, length int) (Addr, error) {
	if length < 0 {
		return 0, fmt.Errorf("heap: allocate %s: length %d: %w", ti.desc.Name, length, ErrBadLength)
	}
	if !ti.desc.Varsized && length != 0 {
		return 0, fmt.Errorf("heap: allocate %s: %w", ti.desc.Name, ErrNotVarsized)
	}
	words := ti.words(length)
	large := words*WordSize >= h.cfg.LargeObjectThreshold

	var a Addr
	for attempt := 0; ; attempt++ {
		if large {
			a = h.gc.allocOld(words)
		} else {
			a = h.gc.allocYoung(words)
			if a == 0 && attempt > 0 {
				a = h.gc.allocOld(words)
			}
		}
		if a != 0 {
			break
		}
		if attempt >= h.cfg.MaxAllocRetries {
			log.Errorf("allocation of %d words for %s failed after %d attempts", words, ti.desc.Name, attempt+1)
			return 0, fmt.Errorf("heap: allocate %s (%d bytes): %w", ti.desc.Name, words*WordSize, ErrOutOfMemory)
		}
		switch {
		case attempt == 0 && !large:
			h.minorCollection()
		case attempt == 0 || (attempt == 1 && !large):
			h.collectAll()
		default:
			if !h.gc.grow(words) {
				log.Debugf("cannot grow heap for %d words", words)
			}
		}
	}

	var flags uint32
	if !h.gc.isYoung(a) {
		flags |= h.gc.oldFlags(a)
	}
	if ti.hasItemRefs() && ti.hook == nil && length >= h.cfg.CardThreshold {
		flags |= flagHasCards
	}
	h.setHeader(a, makeHeader(ti.id, flags))
	if ti.desc.Varsized {
		h.mem.store(a+WordSize, uint64(length))
	}
	ti.instances++
	if ti.light != nil {
		h.lightObjs = append(h.lightObjs, a)
	}
	h.stats.Allocations++
	h.stats.AllocatedBytes += uint64(words * WordSize)
	return a, nil
}

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

func (h *Heap) checkRefField(ti *typeInfo, i int) {
	if ti.hook == nil && (i < 0 || i >= len(ti.fixedRef) || !ti.fixedRef[i]) {
		panic(fmt.Sprintf("heap: field %d of %s is not a reference", i, ti.desc.Name))
	}
}

func (h *Heap) checkRefItem(ti *typeInfo, j int) {
	if ti.hook == nil && (j < 0 || j >= len(ti.itemRef) || !ti.itemRef[j]) {
		panic(fmt.Sprintf("heap: item word %d of %s is not a reference", j, ti.desc.Name))
	}
}

func (h *Heap) checkWordField(ti *typeInfo, i int) {
	if ti.hook == nil && i >= 0 && i < len(ti.fixedRef) && ti.fixedRef[i] {
		panic(fmt.Sprintf("heap: field %d of %s holds a reference", i, ti.desc.Name))
	}
}

func (h *Heap) checkWordItem(ti *typeInfo, j int) {
	if ti.hook == nil && j >= 0 && j < len(ti.itemRef) && ti.itemRef[j] {
		panic(fmt.Sprintf("heap: item word %d of %s holds a reference", j, ti.desc.Name))
	}
}

// Load returns a new handle on the object referenced by field i of r.
func (h *Heap) Load(r Ref, i int) Ref {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkRefField(ti, i)
	return h.roots.add(h.mem.loadAddr(h.fieldAddr(a, ti, i)))
}

// Store writes a reference into field i of r, running the write barrier.
func (h *Heap) Store(r Ref, i int, v Ref) {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkRefField(ti, i)
	val := h.roots.get(v)
	h.writeBarrier(a, val)
	h.mem.storeAddr(h.fieldAddr(a, ti, i), val)
}

// LoadItem returns a new handle on the object referenced by word j of
// item i of r.
func (h *Heap) LoadItem(r Ref, i, j int) Ref {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkRefItem(ti, j)
	return h.roots.add(h.mem.loadAddr(h.itemAddr(a, ti, i, j)))
}

// StoreItem writes a reference into word j of item i of r, running the
// array write barrier.
func (h *Heap) StoreItem(r Ref, i, j int, v Ref) {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkRefItem(ti, j)
	slot := h.itemAddr(a, ti, i, j)
	val := h.roots.get(v)
	h.writeBarrierFromArray(a, i, val)
	h.mem.storeAddr(slot, val)
}

// LoadWord returns the raw value of non-reference field i.
func (h *Heap) LoadWord(r Ref, i int) uint64 {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkWordField(ti, i)
	return h.mem.load(h.fieldAddr(a, ti, i))
}

// StoreWord writes a raw value into non-reference field i.
func (h *Heap) StoreWord(r Ref, i int, v uint64) {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkWordField(ti, i)
	h.mem.store(h.fieldAddr(a, ti, i), v)
}

// LoadItemWord returns the raw value of word j of item i.
func (h *Heap) LoadItemWord(r Ref, i, j int) uint64 {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkWordItem(ti, j)
	return h.mem.load(h.itemAddr(a, ti, i, j))
}

// StoreItemWord writes a raw value into word j of item i.
func (h *Heap) StoreItemWord(r Ref, i, j int, v uint64) {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	h.checkWordItem(ti, j)
	h.mem.store(h.itemAddr(a, ti, i, j), v)
}

// Len returns the item count of r, zero for fixed-size objects.
func (h *Heap) Len(r Ref) int {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	return h.length(a, h.typeAt(a))
}

// ---------------------------------------------------------------------------
// Shrink
// ---------------------------------------------------------------------------

// Shrink truncates a varsized object to length items in place. The header,
// identity hash and the first length items are preserved; the freed tail
// is returned to the space it came from.
func (h *Heap) Shrink(r Ref, length int) error {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	ti := h.typeAt(a)
	if !ti.desc.Varsized {
		return fmt.Errorf("heap: shrink %s: %w", ti.desc.Name, ErrNotVarsized)
	}
	old := h.length(a, ti)
	if length < 0 || length > old {
		return fmt.Errorf("heap: shrink %s from %d to %d: %w", ti.desc.Name, old, length, ErrBadLength)
	}
	oldWords, newWords := ti.words(old), ti.words(length)
	h.mem.store(a+WordSize, uint64(length))
	if newWords < oldWords {
		h.gc.shrink(a, oldWords, newWords)
	}
	return nil
}
