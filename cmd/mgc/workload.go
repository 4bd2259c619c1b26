package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chazu/mgc/config"
	"github.com/chazu/mgc/heap"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Synthetic workload
// ---------------------------------------------------------------------------

// workload drives a heap from several mutator goroutines: each builds
// linked lists, keeps a few of them alive, and exercises finalizers,
// weakrefs, pinning, shrinking and memory pressure along the way.
type workload struct {
	h   *heap.Heap
	cfg config.WorkloadSection

	node     heap.TypeID // field 0: next, field 1: value
	table    heap.TypeID // varsized, one reference per item
	resource heap.TypeID // field 0: handle number

	queue *heap.FinalizerQueue

	finalized   atomic.Int64
	closed      atomic.Int64
	weakCleared atomic.Int64
	pending     atomic.Bool
}

// retained is the number of lists each mutator keeps alive at a time.
const retained = 8

func newWorkload(h *heap.Heap, cfg config.WorkloadSection) (*workload, error) {
	w := &workload{h: h, cfg: cfg}
	var err error
	if w.node, err = h.RegisterType(heap.TypeDesc{Name: "node", FixedWords: 2, RefWords: []int{0}}); err != nil {
		return nil, err
	}
	if w.table, err = h.RegisterType(heap.TypeDesc{Name: "table", Varsized: true, ItemWords: 1, ItemRefWords: []int{0}}); err != nil {
		return nil, err
	}
	if w.resource, err = h.RegisterType(heap.TypeDesc{Name: "resource", FixedWords: 1}); err != nil {
		return nil, err
	}
	if err := h.RegisterCustomLightFinalizer(w.resource, func(heap.View) {
		w.closed.Add(1)
	}); err != nil {
		return nil, err
	}
	w.queue = h.NewFinalizerQueue("workload", func(*heap.FinalizerQueue) {
		w.pending.Store(true)
	})
	return w, nil
}

func (w *workload) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Mutators; i++ {
		g.Go(func() error {
			if err := w.mutate(ctx, i); err != nil {
				return fmt.Errorf("mutator %d: %w", i, err)
			}
			return nil
		})
	}
	err := g.Wait()
	w.drainQueue()
	return err
}

func (w *workload) mutate(ctx context.Context, id int) error {
	h := w.h
	var kept, weak []heap.Ref
	var pinned heap.Ref
	defer func() {
		for _, r := range kept {
			h.Release(r)
		}
		for _, r := range weak {
			h.Release(r)
		}
		if pinned != 0 {
			h.Unpin(pinned)
			h.Release(pinned)
		}
	}()

	for it := 0; it < w.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		head, err := w.buildList(uint64(id)<<32 | uint64(it))
		if err != nil {
			return err
		}

		if it%5 == 0 {
			if err := h.RegisterFinalizer(head, w.queue); err != nil && !errors.Is(err, heap.ErrAlreadyRegistered) {
				return err
			}
		}
		if it%7 == 0 {
			wr, err := h.MakeWeak(head)
			if err != nil {
				return err
			}
			weak = append(weak, wr)
		}
		if it%50 == 0 && h.Config().Variant == heap.IncMiniMark {
			if pinned != 0 {
				h.Unpin(pinned)
				h.Release(pinned)
				pinned = 0
			}
			if h.Pin(head) {
				pinned = h.Dup(head)
			}
		}
		if err := w.useResource(it); err != nil {
			return err
		}
		if it%10 == 0 {
			if err := w.buildTable(head); err != nil {
				return err
			}
		}

		kept = append(kept, head)
		if len(kept) > retained {
			h.Release(kept[0])
			kept = kept[1:]
		}
		if w.pending.Load() {
			w.drainQueue()
		}
	}

	for _, wr := range weak {
		if r := h.Resolve(wr); r != 0 {
			h.Release(r)
		} else {
			w.weakCleared.Add(1)
		}
	}
	return nil
}

// buildList allocates a list of ListLength nodes tagged with seed.
func (w *workload) buildList(seed uint64) (heap.Ref, error) {
	h := w.h
	var head heap.Ref
	for i := 0; i < w.cfg.ListLength; i++ {
		n, err := h.Allocate(w.node, 0)
		if err != nil {
			h.Release(head)
			return 0, err
		}
		h.StoreWord(n, 1, seed+uint64(i))
		if head != 0 {
			h.Store(n, 0, head)
			h.Release(head)
		}
		head = n
	}
	return head, nil
}

// buildTable stores every node of the list into a table, then shrinks it
// to half its length. The table's identity hash must survive the shrink.
func (w *workload) buildTable(head heap.Ref) error {
	h := w.h
	t, err := h.Allocate(w.table, w.cfg.ListLength)
	if err != nil {
		return err
	}
	defer h.Release(t)
	cur := h.Dup(head)
	for i := 0; cur != 0 && i < w.cfg.ListLength; i++ {
		h.StoreItem(t, i, 0, cur)
		next := h.Load(cur, 0)
		h.Release(cur)
		cur = next
	}
	h.Release(cur)
	hash := h.IdentityHash(t)
	if err := h.Shrink(t, w.cfg.ListLength/2); err != nil {
		return err
	}
	if got := h.IdentityHash(t); got != hash {
		return fmt.Errorf("table hash changed across shrink: %d -> %d", hash, got)
	}
	return nil
}

// useResource allocates a short-lived object standing in for an external
// resource, charged as memory pressure.
func (w *workload) useResource(it int) error {
	h := w.h
	r, err := h.Allocate(w.resource, 0)
	if err != nil {
		return err
	}
	h.StoreWord(r, 0, uint64(it))
	h.AddMemoryPressure(4096, r)
	h.Release(r)
	return nil
}

func (w *workload) drainQueue() {
	w.pending.Store(false)
	for {
		r := w.queue.NextDead()
		if r == 0 {
			return
		}
		w.finalized.Add(1)
		w.h.Release(r)
	}
}
