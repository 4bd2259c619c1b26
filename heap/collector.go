package heap

import (
	"fmt"
	"time"
)

// GCState is the phase of a collection cycle.
type GCState int

const (
	Idle GCState = iota
	ScanningRoots
	Copying
	Marking
	Sweeping
)

func (s GCState) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScanningRoots:
		return "scanning-roots"
	case Copying:
		return "copying"
	case Marking:
		return "marking"
	case Sweeping:
		return "sweeping"
	default:
		return fmt.Sprintf("GCState(%d)", int(s))
	}
}

// StepResult is the transition performed by one CollectStep.
type StepResult struct {
	Old GCState
	New GCState
}

// Done reports whether the step completed a cycle.
func (r StepResult) Done() bool {
	return r.New == Idle
}

func (r StepResult) String() string {
	return r.Old.String() + " -> " + r.New.String()
}

// collector is implemented by each variant. Methods are called with the
// heap lock held.
type collector interface {
	state() GCState

	// allocYoung and allocOld return zeroed space or 0 when the space is
	// exhausted. They never collect.
	allocYoung(words int) Addr
	allocOld(words int) Addr
	// oldFlags returns the header flags of a fresh object at a outside the
	// nursery.
	oldFlags(a Addr) uint32
	// grow adds room for at least words words within the heap ceiling.
	grow(words int) bool
	shrink(a Addr, oldWords, newWords int)

	isYoung(a Addr) bool
	canMove(a Addr) bool
	pinnable() bool
	hasBarrier() bool
	regray(a Addr)

	// minor runs a nursery collection, or a full one without a nursery.
	minor()
	// step advances the major cycle by one transition.
	step() StepResult
	majorDue() bool
	requestMajor()

	walk(fn func(a Addr) bool) bool
	usage() usage
}

type usage struct {
	used    int
	nursery int
}

// ---------------------------------------------------------------------------
// Driving collections
// ---------------------------------------------------------------------------

// CollectStep advances the collector by exactly one state transition.
// Starting from Idle it begins a new cycle.
func (h *Heap) CollectStep() StepResult {
	h.lock()
	defer h.unlock()
	return h.collectStep()
}

// Collect finishes the cycle in progress, if any, and then runs a complete
// fresh cycle.
func (h *Heap) Collect() {
	h.lock()
	defer h.unlock()
	h.collectAll()
}

// CollectMinor collects the nursery. Variants without a nursery run a
// full collection instead.
func (h *Heap) CollectMinor() {
	h.lock()
	defer h.unlock()
	h.minorCollection()
}

// State returns the phase of the current cycle.
func (h *Heap) State() GCState {
	h.lock()
	defer h.unlock()
	return h.gc.state()
}

func (h *Heap) collectStep() StepResult {
	start := time.Now()
	r := h.gc.step()
	h.notePause(start)
	log.Debugf("%s step %s", h.cfg.Variant, r)
	return r
}

func (h *Heap) collectAll() {
	for h.gc.state() != Idle {
		h.collectStep()
	}
	for !h.collectStep().Done() {
	}
}

func (h *Heap) minorCollection() {
	h.gc.minor()
}

func (h *Heap) notePause(start time.Time) {
	d := time.Since(start)
	h.stats.TotalGCTime += d
	h.stats.LastPause = d
	if d > h.stats.MaxPause {
		h.stats.MaxPause = d
	}
}

// majorDone is called by collectors when a major cycle completes.
func (h *Heap) majorDone(live int) {
	h.stats.MajorCollections++
	h.pressureSinceMajor = 0
	log.Infof("%s major collection #%d: %d bytes live, %d bytes reserved",
		h.cfg.Variant, h.stats.MajorCollections, live, h.mem.reserved)
}

// withinCeiling reports whether total reserved bytes may reach total.
func (h *Heap) withinCeiling(total int) bool {
	return h.cfg.MaxHeapSize <= 0 || total <= h.cfg.MaxHeapSize
}

// youngFits reports whether the nursery may take words more words: its
// survivors are promoted unconditionally, so old bytes plus everything in
// the nursery must stay within the ceiling.
func (h *Heap) youngFits(n *nursery, oldUsed, words int) bool {
	return h.withinCeiling(n.size() + oldUsed + n.allocated + words*WordSize)
}

// copyHeader is the header of a copy of an object with header hdr.
func copyHeader(hdr header, barrier bool) header {
	nh := hdr.without(transientFlags | flagCardsSet).withAge(hdr.age() + 1)
	if barrier {
		nh = nh.with(flagTrackYoungPtrs)
	}
	return nh
}
