package heap

import (
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("mgc.heap")

// Heap is one managed heap. All state the collector needs (roots,
// remembered set, pin table, finalizer registrations) lives here, so
// independent heaps can coexist.
type Heap struct {
	mu  sync.Mutex
	cfg Config
	mem *memory
	gc  collector

	types       []*typeInfo
	typesByName map[string]TypeID

	roots rootSet

	// write barrier state, consumed by the next minor collection
	remembered  []Addr
	cardObjects []Addr
	cards       map[Addr][]uint64
	oldToPinned []Addr

	// side tables keyed by object address
	hashes     map[Addr]int64
	hashSerial uint64
	pins       map[Addr]int
	pressure   map[Addr]int64

	external           int64
	pressureSinceMajor int64

	finRegs         []finReg
	queues          []*FinalizerQueue
	pendingTriggers []*FinalizerQueue

	weakrefs  []Addr
	lightObjs []Addr

	stats Stats
}

// New creates a heap using the collector selected by cfg.Variant.
func New(cfg Config) *Heap {
	cfg = cfg.withDefaults()
	h := &Heap{
		cfg:         cfg,
		mem:         newMemory(cfg.Debug),
		typesByName: make(map[string]TypeID),
		roots:       newRootSet(),
		cards:       make(map[Addr][]uint64),
		hashes:      make(map[Addr]int64),
		pins:        make(map[Addr]int),
		pressure:    make(map[Addr]int64),
	}
	h.registerBuiltinTypes()
	for id := typeFiller1; id < firstUserType; id++ {
		h.typesByName[h.types[id].desc.Name] = id
	}
	switch cfg.Variant {
	case SemiSpace:
		h.gc = newSemiSpace(h)
	case Generational:
		h.gc = newGenerational(h, false)
	case Hybrid:
		h.gc = newGenerational(h, true)
	default:
		h.cfg.Variant = IncMiniMark
		h.gc = newIncMiniMark(h)
	}
	log.Debugf("new %s heap: nursery %d bytes, space %d bytes", h.cfg.Variant, cfg.NurserySize, cfg.SpaceSize)
	return h
}

// Config returns the effective configuration.
func (h *Heap) Config() Config {
	return h.cfg
}

// Variant returns the active collector variant.
func (h *Heap) Variant() Variant {
	return h.cfg.Variant
}

func (h *Heap) lock() {
	h.mu.Lock()
}

// unlock releases the heap lock and then runs the triggers of finalizer
// queues that received dead objects while it was held.
func (h *Heap) unlock() {
	if len(h.pendingTriggers) == 0 {
		h.mu.Unlock()
		return
	}
	qs := h.pendingTriggers
	h.pendingTriggers = nil
	for _, q := range qs {
		q.scheduled = false
	}
	h.mu.Unlock()
	for _, q := range qs {
		q.runTrigger()
	}
}
