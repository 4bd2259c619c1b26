package heap

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// IdentityHash returns a hash tied to the identity of r's object. The
// first call computes it from the object's current address and a serial
// number; the value is kept in a side table that follows the object when
// it moves, so later calls return the same value.
func (h *Heap) IdentityHash(r Ref) int64 {
	h.lock()
	defer h.unlock()
	a := h.deref(r)
	hdr := h.header(a)
	if hdr.has(flagHashTaken) {
		return h.hashes[a]
	}
	h.hashSerial++
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:], h.hashSerial)
	v := int64(xxh3.HashSeed(buf[:], h.cfg.HashSeed) >> 1)
	h.hashes[a] = v
	h.setHeader(a, hdr.with(flagHashTaken))
	return v
}
