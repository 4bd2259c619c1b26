package heap

// semiSpaceGC allocates from one half and copies every live object into a
// fresh half on each collection. A cycle is four steps:
//
//	Idle -> ScanningRoots     size the next space
//	ScanningRoots -> Copying  copy roots and their closure, swap spaces
//	Copying -> Sweeping       unmap the old space
//	Sweeping -> Idle          resize for the next cycle
//
// All pointer updates happen within the copying step, so the mutator
// never observes a half-copied graph.
type semiSpaceGC struct {
	h     *Heap
	st    GCState
	space *bumpSpace
	from  *bumpSpace

	spaceSize int
	nextSize  int
}

func newSemiSpace(h *Heap) *semiSpaceGC {
	return &semiSpaceGC{
		h:         h,
		space:     newBumpSpace(h.mem, "semispace", h.cfg.SpaceSize),
		spaceSize: h.cfg.SpaceSize,
	}
}

func (s *semiSpaceGC) state() GCState { return s.st }

func (s *semiSpaceGC) allocYoung(words int) Addr { return s.space.alloc(words) }
func (s *semiSpaceGC) allocOld(words int) Addr   { return s.space.alloc(words) }
func (s *semiSpaceGC) oldFlags(Addr) uint32      { return 0 }

func (s *semiSpaceGC) isYoung(Addr) bool { return false }
func (s *semiSpaceGC) canMove(Addr) bool { return true }
func (s *semiSpaceGC) pinnable() bool    { return false }
func (s *semiSpaceGC) hasBarrier() bool  { return false }
func (s *semiSpaceGC) regray(Addr)       {}

func (s *semiSpaceGC) shrink(a Addr, oldWords, newWords int) {
	s.h.writeFiller(a+Addr(newWords*WordSize), oldWords-newWords)
}

func (s *semiSpaceGC) minor() { s.h.collectAll() }

func (s *semiSpaceGC) majorDue() bool {
	return s.h.pressureSinceMajor > int64(s.spaceSize/2)
}

func (s *semiSpaceGC) requestMajor() { s.h.collectAll() }

func (s *semiSpaceGC) step() StepResult {
	old := s.st
	switch s.st {
	case Idle:
		s.nextSize = s.spaceSize
		s.st = ScanningRoots
	case ScanningRoots:
		s.copyAll()
		s.st = Copying
	case Copying:
		s.h.mem.release(s.from.reg)
		s.from = nil
		s.st = Sweeping
	case Sweeping:
		live := s.space.used()
		if live > s.spaceSize/2 {
			s.resize(s.spaceSize * 2)
		}
		s.h.majorDone(live)
		s.st = Idle
	}
	return StepResult{Old: old, New: s.st}
}

func (s *semiSpaceGC) copyAll() {
	h := s.h
	size := max(s.nextSize, s.space.used())
	to := newBumpSpace(h.mem, "semispace", size)
	from := s.space
	e := newEvacuator(h, from.contains, func(_ Addr, words int, hdr header) (Addr, header) {
		return to.alloc(words), copyHeader(hdr, false)
	})
	h.scanRoots(e)
	e.drain(-1)
	h.afterTrace(e, true)
	s.from, s.space = from, to
	log.Debugf("semispace: copied %d objects, %d bytes", e.scanned, to.used())
}

// resize sets the size of the spaces used from the next cycle on, capped
// by the heap ceiling.
func (s *semiSpaceGC) resize(size int) bool {
	if !s.h.withinCeiling(size) {
		if s.h.cfg.MaxHeapSize <= s.spaceSize {
			return false
		}
		size = s.h.cfg.MaxHeapSize
	}
	s.spaceSize = roundWords(size)
	return true
}

func (s *semiSpaceGC) grow(words int) bool {
	need := s.space.used() + words*WordSize
	want := max(s.spaceSize*2, need)
	if !s.resize(want) || s.spaceSize < need {
		return false
	}
	s.h.collectAll()
	return true
}

func (s *semiSpaceGC) walk(fn func(a Addr) bool) bool {
	return s.h.walkSpan(span{s.space.reg.base, s.space.top}, fn)
}

func (s *semiSpaceGC) usage() usage {
	return usage{used: s.space.used()}
}
