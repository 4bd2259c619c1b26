package heap

import "fmt"

// Addr is a byte address in the simulated address space. Zero is null.
type Addr uint64

// WordSize is the size in bytes of one heap word.
const WordSize = 8

// Every region owns a 1 TiB slice of the address space, so regions can
// grow in place and a region index is never reused.
const regionShift = 40

const poisonWord uint64 = 0xdeadbeefdeadbeef

// region is one contiguous reservation (a semispace, the nursery, an
// arena).
type region struct {
	name  string
	base  Addr
	words []uint64
}

func (r *region) end() Addr            { return r.base + Addr(len(r.words)*WordSize) }
func (r *region) size() int            { return len(r.words) * WordSize }
func (r *region) contains(a Addr) bool { return a >= r.base && a < r.end() }

// memory maps addresses to regions. Accessing an address outside every
// live region panics, which is how stale pointers surface.
type memory struct {
	regions  map[uint64]*region
	next     uint64
	last     *region
	reserved int
	peak     int
	debug    bool
}

func newMemory(debug bool) *memory {
	return &memory{
		regions: make(map[uint64]*region),
		next:    1,
		debug:   debug,
	}
}

// reserve maps a fresh zeroed region of size bytes.
func (m *memory) reserve(name string, size int) *region {
	idx := m.next
	m.next++
	r := &region{
		name:  name,
		base:  Addr(idx << regionShift),
		words: make([]uint64, size/WordSize),
	}
	m.regions[idx] = r
	m.account(r.size())
	return r
}

// grow extends r by size bytes.
func (m *memory) grow(r *region, size int) {
	r.words = append(r.words, make([]uint64, size/WordSize)...)
	m.account(size)
}

// release unmaps r. Later accesses into it panic.
func (m *memory) release(r *region) {
	if m.debug {
		for i := range r.words {
			r.words[i] = poisonWord
		}
	}
	delete(m.regions, uint64(r.base)>>regionShift)
	if m.last == r {
		m.last = nil
	}
	m.reserved -= r.size()
}

func (m *memory) account(delta int) {
	m.reserved += delta
	if m.reserved > m.peak {
		m.peak = m.reserved
	}
}

func (m *memory) slot(a Addr) *uint64 {
	r := m.last
	if r == nil || !r.contains(a) {
		r = m.regions[uint64(a)>>regionShift]
		if r == nil || !r.contains(a) {
			panic(fmt.Sprintf("heap: access to unmapped address %#x", uint64(a)))
		}
		m.last = r
	}
	if a%WordSize != 0 {
		panic(fmt.Sprintf("heap: unaligned access at %#x", uint64(a)))
	}
	return &r.words[(a-r.base)/WordSize]
}

func (m *memory) load(a Addr) uint64     { return *m.slot(a) }
func (m *memory) store(a Addr, v uint64) { *m.slot(a) = v }

func (m *memory) loadAddr(a Addr) Addr     { return Addr(*m.slot(a)) }
func (m *memory) storeAddr(a Addr, v Addr) { *m.slot(a) = uint64(v) }

// mapped reports whether a lies inside a live region.
func (m *memory) mapped(a Addr) bool {
	r := m.regions[uint64(a)>>regionShift]
	return r != nil && r.contains(a)
}

func (m *memory) zero(a Addr, words int) {
	for i := 0; i < words; i++ {
		m.store(a+Addr(i*WordSize), 0)
	}
}

// poison overwrites reclaimed words in debug mode.
func (m *memory) poison(a Addr, words int) {
	if !m.debug {
		return
	}
	for i := 0; i < words; i++ {
		m.store(a+Addr(i*WordSize), poisonWord)
	}
}

func (m *memory) copyWords(dst, src Addr, words int) {
	for i := 0; i < words; i++ {
		off := Addr(i * WordSize)
		m.store(dst+off, m.load(src+off))
	}
}
