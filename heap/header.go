package heap

// header is the first word of every object:
//
//	bits  0-31  type id
//	bits 32-55  flags
//	bits 56-63  age (collections survived)
type header uint64

const (
	flagVisited              uint32 = 1 << iota // marked, or a pinned nursery survivor
	flagForwarded                               // copied; word 1 holds the new address
	flagTrackYoungPtrs                          // old object not in the remembered set
	flagHasCards                                // large array using card marking
	flagCardsSet                                // at least one card is dirty
	flagPinned                                  // pinned, must not move
	flagHasFinalizer                            // registered with a finalizer queue
	flagIgnoreFinalizer                         // finalizer may be skipped
	flagFinalizationOrdering                    // reachable from a finalizable object
	flagHashTaken                               // identity hash recorded
	flagGray                                    // on the incremental mark stack
)

// flags that never survive a copy
const transientFlags = flagVisited | flagForwarded | flagGray

func makeHeader(tid TypeID, flags uint32) header {
	return header(uint64(tid) | uint64(flags)<<32)
}

func (h header) typeID() TypeID { return TypeID(uint32(h)) }
func (h header) flags() uint32  { return uint32(h>>32) & 0xffffff }
func (h header) age() int       { return int(h >> 56) }

func (h header) has(f uint32) bool { return h.flags()&f != 0 }

func (h header) with(f uint32) header {
	return h | header(uint64(f&0xffffff)<<32)
}

func (h header) without(f uint32) header {
	return h &^ header(uint64(f&0xffffff)<<32)
}

func (h header) withAge(age int) header {
	if age > 255 {
		age = 255
	}
	return h&^(0xff<<56) | header(uint64(age)<<56)
}

func (h *Heap) header(a Addr) header { return header(h.mem.load(a)) }

func (h *Heap) setHeader(a Addr, hdr header) { h.mem.store(a, uint64(hdr)) }

func (h *Heap) setFlag(a Addr, f uint32) { h.setHeader(a, h.header(a).with(f)) }

func (h *Heap) clearFlag(a Addr, f uint32) { h.setHeader(a, h.header(a).without(f)) }
