package heap

import "fmt"

// ---------------------------------------------------------------------------
// FinalizerQueue: explicit, drainable queue of dead objects
// ---------------------------------------------------------------------------

// FinalizerQueue receives objects that became unreachable after being
// registered with RegisterFinalizer. Each queued object stays alive until
// it has been popped with NextDead and dropped by the caller.
//
// The collector only appends. When a collection adds objects, the
// trigger callback runs once the heap lock is released, never inside the
// collection itself.
type FinalizerQueue struct {
	h         *Heap
	name      string
	trigger   func(q *FinalizerQueue)
	dead      []Addr
	scheduled bool
	total     uint64
}

type finReg struct {
	a Addr
	q *FinalizerQueue
}

// NewFinalizerQueue creates a queue. trigger may be nil.
func (h *Heap) NewFinalizerQueue(name string, trigger func(q *FinalizerQueue)) *FinalizerQueue {
	h.lock()
	defer h.unlock()
	q := &FinalizerQueue{h: h, name: name, trigger: trigger}
	h.queues = append(h.queues, q)
	return q
}

// Name returns the queue name.
func (q *FinalizerQueue) Name() string {
	return q.name
}

// NextDead pops the oldest dead object, or returns nil when the queue is
// empty. Popping an empty queue has no side effects.
func (q *FinalizerQueue) NextDead() Ref {
	q.h.lock()
	defer q.h.unlock()
	if len(q.dead) == 0 {
		return 0
	}
	a := q.dead[0]
	q.dead[0] = 0
	q.dead = q.dead[1:]
	return q.h.roots.add(a)
}

// Len returns the number of objects waiting in the queue.
func (q *FinalizerQueue) Len() int {
	q.h.lock()
	defer q.h.unlock()
	return len(q.dead)
}

// Total returns the number of objects ever queued.
func (q *FinalizerQueue) Total() uint64 {
	q.h.lock()
	defer q.h.unlock()
	return q.total
}

// Trigger invokes the trigger callback. The collector calls it after a
// collection queued new objects; embedders may call it too. It must not
// be called with the heap lock held.
func (q *FinalizerQueue) Trigger() {
	if q.trigger != nil {
		q.trigger(q)
	}
}

func (q *FinalizerQueue) runTrigger() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("finalizer queue %s: trigger panicked: %v", q.name, r)
		}
	}()
	q.Trigger()
}

// push appends a dead object. Called with the heap lock held.
func (q *FinalizerQueue) push(a Addr) {
	q.dead = append(q.dead, a)
	q.total++
	if !q.scheduled {
		q.scheduled = true
		q.h.pendingTriggers = append(q.h.pendingTriggers, q)
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterFinalizer arranges for r's object to be appended to q once it
// becomes unreachable. An object is queued at most once per registration;
// it may be registered again after it has been queued.
func (h *Heap) RegisterFinalizer(r Ref, q *FinalizerQueue) error {
	h.lock()
	defer h.unlock()
	if q == nil || q.h != h {
		return fmt.Errorf("heap: register finalizer: queue belongs to another heap")
	}
	a := h.deref(r)
	hdr := h.header(a)
	if hdr.has(flagHasFinalizer) {
		return fmt.Errorf("heap: register finalizer for %s: %w", h.typeAt(a).desc.Name, ErrAlreadyRegistered)
	}
	h.setHeader(a, hdr.with(flagHasFinalizer))
	h.finRegs = append(h.finRegs, finReg{a: a, q: q})
	return nil
}

// MayIgnoreFinalizer tells the collector that r's finalizer has no
// observable effect, so the object may be reclaimed without being queued.
func (h *Heap) MayIgnoreFinalizer(r Ref) {
	h.lock()
	defer h.unlock()
	h.setFlag(h.deref(r), flagIgnoreFinalizer)
}

// scanQueues treats queued objects as roots.
func (h *Heap) scanQueues(e *evacuator) {
	for _, q := range h.queues {
		for i, a := range q.dead {
			q.dead[i] = e.visitRoot(a)
		}
	}
}

// scanRoots processes every root: handles and queued dead objects.
func (h *Heap) scanRoots(e *evacuator) {
	h.roots.each(func(slot *Addr) {
		*slot = e.visitRoot(*slot)
	})
	h.scanQueues(e)
}
