package heap

import "time"

// incMiniMarkGC pairs a copying nursery with a non-moving block arena that
// is marked and swept incrementally. Each major step first empties the
// nursery, so marking only ever deals with arena objects and the pinned
// nursery survivors, which are treated as roots.
//
// Marking is incremental update: the roots are rescanned on every step,
// objects promoted while marking start out gray, and the write barrier
// re-grays a black object the mutator stores into. A cycle is
//
//	Idle -> ScanningRoots     mark from the roots
//	ScanningRoots -> Marking  first MarkBudget objects traced
//	Marking -> Marking        another MarkBudget objects traced
//	Marking -> Sweeping       gray set empty, weakrefs and finalizers settled
//	Sweeping -> Sweeping      SweepBudget blocks swept
//	Sweeping -> Idle          arena swept, next threshold computed
type incMiniMarkGC struct {
	h  *Heap
	st GCState

	nursery *nursery
	arena   *blockArena
	mark    *evacuator

	nextMajor int
}

func newIncMiniMark(h *Heap) *incMiniMarkGC {
	return &incMiniMarkGC{
		h:         h,
		nursery:   newNursery(h.mem, h.cfg.NurserySize),
		arena:     newBlockArena(h.mem, "arena", h.cfg.SpaceSize),
		nextMajor: h.cfg.SpaceSize / 2,
	}
}

func (g *incMiniMarkGC) state() GCState { return g.st }

// allocYoung refuses nursery space once promoting the nursery could take
// the arena past the heap ceiling.
func (g *incMiniMarkGC) allocYoung(words int) Addr {
	if !g.h.youngFits(g.nursery, g.arena.usedBytes(), words) {
		return 0
	}
	return g.nursery.alloc(words)
}

func (g *incMiniMarkGC) allocOld(words int) Addr { return g.arena.alloc(words) }

func (g *incMiniMarkGC) marking() bool {
	return g.st == ScanningRoots || g.st == Marking
}

// oldFlags makes objects allocated during marking black and keeps the
// sweep from reclaiming objects allocated ahead of its cursor.
func (g *incMiniMarkGC) oldFlags(a Addr) uint32 {
	if g.marking() || g.arena.aheadOfSweep(a) {
		return flagTrackYoungPtrs | flagVisited
	}
	return flagTrackYoungPtrs
}

func (g *incMiniMarkGC) isYoung(a Addr) bool { return g.nursery.contains(a) }
func (g *incMiniMarkGC) canMove(a Addr) bool { return g.nursery.contains(a) }
func (g *incMiniMarkGC) pinnable() bool      { return true }
func (g *incMiniMarkGC) hasBarrier() bool    { return true }

func (g *incMiniMarkGC) regray(a Addr) {
	if !g.marking() || !g.arena.contains(a) {
		return
	}
	hdr := g.h.header(a)
	if !hdr.has(flagVisited) || hdr.has(flagGray) {
		return
	}
	g.h.setHeader(a, hdr.with(flagGray))
	g.mark.work = append(g.mark.work, a)
}

func (g *incMiniMarkGC) shrink(a Addr, oldWords, newWords int) {
	if g.arena.contains(a) {
		g.arena.shrink(a, newWords)
		return
	}
	g.h.writeFiller(a+Addr(newWords*WordSize), oldWords-newWords)
}

func (g *incMiniMarkGC) majorDue() bool {
	return g.arena.usedBytes()+int(g.h.pressureSinceMajor) > g.nextMajor
}

func (g *incMiniMarkGC) requestMajor() { g.h.collectStep() }

// ---------------------------------------------------------------------------
// Minor collection
// ---------------------------------------------------------------------------

// minor collects the nursery, or advances the major cycle when one is in
// progress or due; every major step starts with a minor collection.
func (g *incMiniMarkGC) minor() {
	if g.st != Idle || g.majorDue() {
		g.h.collectStep()
		return
	}
	start := time.Now()
	g.doMinor()
	g.h.notePause(start)
}

func (g *incMiniMarkGC) doMinor() {
	h := g.h
	e := newEvacuator(h, g.nursery.contains, g.promote)
	e.onSlot = func(container, target Addr) {
		if container == 0 || g.nursery.contains(container) || !g.nursery.contains(target) {
			return
		}
		if n := len(h.oldToPinned); n > 0 && h.oldToPinned[n-1] == container {
			return
		}
		h.oldToPinned = append(h.oldToPinned, container)
	}
	h.scanRoots(e)
	h.traceOldToYoung(e)
	e.drain(-1)
	h.afterTrace(e, false)
	for _, a := range e.inPlace {
		h.clearFlag(a, flagVisited)
	}
	g.nursery.reset(e.inPlace, h.objectWords)
	h.stats.MinorCollections++
	log.Debugf("incminimark minor: %d survivors, %d pinned", e.scanned, len(e.inPlace))
}

// promote moves a nursery survivor into the arena. Pinned objects stay
// where they are.
func (g *incMiniMarkGC) promote(_ Addr, words int, hdr header) (Addr, header) {
	if hdr.has(flagPinned) {
		return 0, 0
	}
	dst := g.arena.alloc(words)
	if dst == 0 {
		// a minor collection cannot fail, so the ceiling does not apply
		g.arena.grow(max(words*WordSize, g.arena.size()/4))
		dst = g.arena.alloc(words)
	}
	nh := copyHeader(hdr, true)
	switch {
	case g.marking():
		nh = nh.with(flagVisited | flagGray)
		g.mark.work = append(g.mark.work, dst)
	case g.arena.aheadOfSweep(dst):
		nh = nh.with(flagVisited)
	}
	return dst, nh
}

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

func (g *incMiniMarkGC) step() StepResult {
	old := g.st
	g.doMinor()
	switch g.st {
	case Idle:
		g.mark = newEvacuator(g.h, g.arena.contains, inPlace)
		g.markRoots()
		g.st = ScanningRoots
	case ScanningRoots:
		g.markRoots()
		g.drain()
		g.st = Marking
	case Marking:
		g.markRoots()
		if g.drain() {
			g.finishMarking()
			g.st = Sweeping
		}
	case Sweeping:
		if _, done := g.arena.sweepStep(g.h.cfg.SweepBudget, g.keep); done {
			live := g.arena.usedBytes()
			g.nextMajor = max(g.h.cfg.SpaceSize/2, int(float64(live)*g.h.cfg.MajorGrowth))
			g.h.majorDone(live)
			g.st = Idle
		}
	}
	return StepResult{Old: old, New: g.st}
}

func (g *incMiniMarkGC) markRoots() {
	g.h.scanRoots(g.mark)
	for _, p := range g.nursery.pinned {
		g.mark.scan(p)
	}
}

func (g *incMiniMarkGC) drain() bool {
	done := g.mark.drain(g.h.cfg.MarkBudget)
	g.mark.inPlace = g.mark.inPlace[:0]
	return done
}

func (g *incMiniMarkGC) finishMarking() {
	h := g.h
	h.afterTrace(g.mark, true)
	h.filterBarrier(func(a Addr) bool {
		return !g.arena.contains(a) || h.header(a).has(flagVisited)
	})
	log.Debugf("incminimark: marked %d objects", g.mark.scanned)
	g.mark = nil
	g.arena.startSweep()
}

func (g *incMiniMarkGC) keep(a Addr) bool {
	hdr := g.h.header(a)
	if !hdr.has(flagVisited) {
		return false
	}
	g.h.setHeader(a, hdr.without(flagVisited|flagGray))
	return true
}

func (g *incMiniMarkGC) grow(words int) bool {
	add := max(words*WordSize, g.arena.size()/2)
	total := g.nursery.size() + g.arena.size()
	if !g.h.withinCeiling(total + add) {
		add = words * WordSize
		if !g.h.withinCeiling(total + add) {
			return false
		}
	}
	g.arena.grow(add)
	return true
}

func (g *incMiniMarkGC) walk(fn func(a Addr) bool) bool {
	if !g.h.walkNursery(g.nursery, fn) {
		return false
	}
	return g.arena.walk(fn)
}

func (g *incMiniMarkGC) usage() usage {
	return usage{
		used:    g.arena.usedBytes() + g.nursery.allocated,
		nursery: g.nursery.size(),
	}
}
