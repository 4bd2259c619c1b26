package heap

import (
	"math"
	"time"
)

// generationalGC adds a nursery in front of a semispace old generation.
// Minor collections copy nursery survivors into the old space, finding
// old-to-young pointers through the write barrier. Major collections copy
// the old space and the nursery into a fresh old space in one step.
//
// In hybrid mode a third, non-moving generation holds objects that
// survived PromoteAge collections, plus large objects. It is a block arena
// marked in place during a major collection and swept right after it.
type generationalGC struct {
	h      *Heap
	hybrid bool
	st     GCState

	nursery *nursery
	old     *bumpSpace
	from    *bumpSpace
	gen3    *blockArena

	spaceSize int
	nextSize  int
}

func newGenerational(h *Heap, hybrid bool) *generationalGC {
	g := &generationalGC{
		h:         h,
		hybrid:    hybrid,
		nursery:   newNursery(h.mem, h.cfg.NurserySize),
		old:       newBumpSpace(h.mem, "old", h.cfg.SpaceSize),
		spaceSize: h.cfg.SpaceSize,
	}
	if hybrid {
		g.gen3 = newBlockArena(h.mem, "gen3", h.cfg.SpaceSize)
	}
	return g
}

func (g *generationalGC) state() GCState { return g.st }

func (g *generationalGC) allocYoung(words int) Addr {
	used := g.old.used()
	if g.hybrid {
		used += g.gen3.usedBytes()
	}
	if !g.h.youngFits(g.nursery, used, words) {
		return 0
	}
	return g.nursery.alloc(words)
}

func (g *generationalGC) allocOld(words int) Addr {
	if g.hybrid {
		return g.gen3.alloc(words)
	}
	return g.old.alloc(words)
}

func (g *generationalGC) oldFlags(Addr) uint32 { return flagTrackYoungPtrs }

func (g *generationalGC) isYoung(a Addr) bool { return g.nursery.contains(a) }
func (g *generationalGC) canMove(a Addr) bool { return !g.inGen3(a) }
func (g *generationalGC) pinnable() bool      { return false }
func (g *generationalGC) hasBarrier() bool    { return true }
func (g *generationalGC) regray(Addr)         {}

func (g *generationalGC) inGen3(a Addr) bool { return g.hybrid && g.gen3.contains(a) }

func (g *generationalGC) shrink(a Addr, oldWords, newWords int) {
	if g.inGen3(a) {
		g.gen3.shrink(a, newWords)
		return
	}
	g.h.writeFiller(a+Addr(newWords*WordSize), oldWords-newWords)
}

func (g *generationalGC) majorDue() bool {
	return g.h.pressureSinceMajor > int64(g.spaceSize/2)
}

func (g *generationalGC) requestMajor() { g.h.collectAll() }

// ---------------------------------------------------------------------------
// Minor collection
// ---------------------------------------------------------------------------

func (g *generationalGC) minor() {
	h := g.h
	if g.old.free() < g.nursery.allocated {
		// survivors might not fit; a major collection empties the nursery too
		h.collectAll()
		return
	}
	start := time.Now()
	e := newEvacuator(h, g.nursery.contains, func(_ Addr, words int, hdr header) (Addr, header) {
		return g.old.alloc(words), copyHeader(hdr, true)
	})
	h.scanRoots(e)
	h.traceOldToYoung(e)
	e.drain(-1)
	h.afterTrace(e, false)
	g.nursery.reset(nil, nil)
	h.stats.MinorCollections++
	h.notePause(start)
	log.Debugf("%s minor: %d survivors", h.cfg.Variant, e.scanned)

	if g.old.free() < g.nursery.size() || g.majorDue() {
		h.collectAll()
	}
}

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

func (g *generationalGC) step() StepResult {
	old := g.st
	switch g.st {
	case Idle:
		g.nextSize = g.spaceSize
		g.st = ScanningRoots
	case ScanningRoots:
		g.copyAll()
		g.st = Copying
	case Copying:
		g.h.mem.release(g.from.reg)
		g.from = nil
		g.st = Sweeping
	case Sweeping:
		if g.old.used() > g.spaceSize/2 {
			g.resize(g.spaceSize * 2)
		}
		live := g.old.used()
		if g.hybrid {
			live += g.gen3.usedBytes()
		}
		g.h.majorDone(live)
		g.st = Idle
	}
	return StepResult{Old: old, New: g.st}
}

func (g *generationalGC) copyAll() {
	h := g.h
	from := g.old
	to := newBumpSpace(h.mem, "old", max(g.nextSize, from.used()+g.nursery.allocated))
	covers := func(a Addr) bool {
		return from.contains(a) || g.nursery.contains(a) || g.inGen3(a)
	}
	e := newEvacuator(h, covers, func(p Addr, words int, hdr header) (Addr, header) {
		if g.inGen3(p) {
			return 0, 0
		}
		nh := copyHeader(hdr, true)
		if g.hybrid && nh.age() >= h.cfg.PromoteAge {
			// The gen3 sweep below keeps only marked blocks.
			return g.gen3Alloc(words), nh.with(flagVisited)
		}
		return to.alloc(words), nh
	})
	h.scanRoots(e)
	e.drain(-1)
	h.afterTrace(e, true)

	if g.hybrid {
		g.gen3.startSweep()
		freed, _ := g.gen3.sweepStep(math.MaxInt, func(a Addr) bool {
			hdr := h.header(a)
			if !hdr.has(flagVisited) {
				return false
			}
			h.setHeader(a, hdr.without(flagVisited|flagGray|flagCardsSet).with(flagTrackYoungPtrs))
			return true
		})
		log.Debugf("hybrid: swept %d blocks from gen3", freed)
	}
	h.resetBarrier()
	g.nursery.reset(nil, nil)
	g.from, g.old = from, to
}

// gen3Alloc places a promoted object in the third generation, growing it
// past the ceiling if needed: a collection in progress cannot fail.
func (g *generationalGC) gen3Alloc(words int) Addr {
	if a := g.gen3.alloc(words); a != 0 {
		return a
	}
	g.gen3.grow(max(words*WordSize, g.gen3.size()/2))
	return g.gen3.alloc(words)
}

func (g *generationalGC) footprint() int {
	n := g.nursery.size() + g.spaceSize
	if g.hybrid {
		n += g.gen3.size()
	}
	return n
}

func (g *generationalGC) resize(size int) bool {
	extra := g.footprint() - g.spaceSize
	if !g.h.withinCeiling(extra + size) {
		limit := g.h.cfg.MaxHeapSize - extra
		if limit <= g.spaceSize {
			return false
		}
		size = limit
	}
	g.spaceSize = roundWords(size)
	return true
}

func (g *generationalGC) grow(words int) bool {
	bytes := words * WordSize
	if g.hybrid && bytes >= g.h.cfg.LargeObjectThreshold {
		add := max(bytes, g.gen3.size()/2)
		if !g.h.withinCeiling(g.footprint() + add) {
			add = bytes
			if !g.h.withinCeiling(g.footprint() + add) {
				return false
			}
		}
		g.gen3.grow(add)
		return true
	}
	need := g.old.used() + g.nursery.allocated + bytes
	if !g.resize(max(g.spaceSize*2, need)) || g.spaceSize < need {
		return false
	}
	g.h.collectAll()
	return true
}

func (g *generationalGC) walk(fn func(a Addr) bool) bool {
	h := g.h
	if !h.walkNursery(g.nursery, fn) {
		return false
	}
	if !h.walkSpan(span{g.old.reg.base, g.old.top}, fn) {
		return false
	}
	if g.hybrid {
		return g.gen3.walk(fn)
	}
	return true
}

func (g *generationalGC) usage() usage {
	used := g.old.used() + g.nursery.allocated
	if g.hybrid {
		used += g.gen3.usedBytes()
	}
	return usage{used: used, nursery: g.nursery.size()}
}
