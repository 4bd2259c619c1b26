package heap

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats holds the aggregate counters of a heap.
type Stats struct {
	Variant Variant
	State   GCState

	// TotalMemory is the number of bytes currently reserved for spaces,
	// PeakMemory its high-water mark.
	TotalMemory int
	PeakMemory  int
	NurserySize int
	// UsedBytes counts bytes occupied by objects, dead or alive, since
	// the last collection.
	UsedBytes     int
	ExternalBytes int64

	MinorCollections uint64
	MajorCollections uint64
	TotalGCTime      time.Duration
	LastPause        time.Duration
	MaxPause         time.Duration

	Allocations    uint64
	AllocatedBytes uint64

	Pinned           int
	FinalizersQueued uint64
	WeakrefsCleared  uint64
}

// Stats returns a copy of the heap counters.
func (h *Heap) Stats() Stats {
	h.lock()
	defer h.unlock()
	s := h.stats
	u := h.gc.usage()
	s.Variant = h.cfg.Variant
	s.State = h.gc.state()
	s.TotalMemory = h.mem.reserved
	s.PeakMemory = h.mem.peak
	s.NurserySize = u.nursery
	s.UsedBytes = u.used
	s.ExternalBytes = h.external
	s.Pinned = len(h.pins)
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("%s heap (%s): %s used of %s reserved (peak %s), %d minor / %d major collections, gc time %s, max pause %s",
		s.Variant, s.State,
		humanize.IBytes(uint64(s.UsedBytes)),
		humanize.IBytes(uint64(s.TotalMemory)),
		humanize.IBytes(uint64(s.PeakMemory)),
		s.MinorCollections, s.MajorCollections,
		s.TotalGCTime.Round(time.Microsecond), s.MaxPause.Round(time.Microsecond))
}
