package heap

import (
	"errors"
	"slices"
	"testing"
)

func drain(h *Heap, q *FinalizerQueue) []uint64 {
	var out []uint64
	for {
		r := q.NextDead()
		if r == 0 {
			return out
		}
		out = append(out, h.LoadWord(r, 1))
		h.Release(r)
	}
}

func TestFinalizerQueueReceivesDeadObjects(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		q := h.NewFinalizerQueue("q", nil)

		var last Ref
		for i := 0; i < 6; i++ {
			r := newNode(h, tt, uint64(i))
			if err := h.RegisterFinalizer(r, q); err != nil {
				t.Fatalf("RegisterFinalizer: %v", err)
			}
			if i < 5 {
				h.Release(r)
			} else {
				last = r
			}
		}
		h.Collect()
		h.Collect()

		got := drain(h, q)
		slices.Sort(got)
		if want := []uint64{0, 1, 2, 3, 4}; !slices.Equal(got, want) {
			t.Errorf("drained %v, want %v", got, want)
		}
		for i := 0; i < 3; i++ {
			if r := q.NextDead(); r != 0 {
				t.Fatalf("NextDead on an empty queue returned %d", r)
			}
		}
		if got := q.Total(); got != 5 {
			t.Errorf("Total = %d, want 5", got)
		}
		if h.LoadWord(last, 1) != 5 {
			t.Errorf("live finalizable object corrupted")
		}
	})
}

func TestFinalizersAcrossQueues(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		queues := []*FinalizerQueue{
			h.NewFinalizerQueue("a", nil),
			h.NewFinalizerQueue("b", nil),
			h.NewFinalizerQueue("c", nil),
		}
		const n = 1000
		for i := 0; i < n; i++ {
			r := newNode(h, tt, uint64(i))
			if err := h.RegisterFinalizer(r, queues[i%3]); err != nil {
				t.Fatal(err)
			}
			h.Release(r)
		}
		h.Collect()

		seen := make(map[uint64]bool)
		for qi, q := range queues {
			for _, v := range drain(h, q) {
				if seen[v] {
					t.Fatalf("object %d drained twice", v)
				}
				if int(v)%3 != qi {
					t.Errorf("object %d drained from queue %s", v, q.Name())
				}
				seen[v] = true
			}
		}
		if len(seen) != n {
			t.Errorf("drained %d objects, want %d", len(seen), n)
		}
		if s := h.Stats(); s.FinalizersQueued != n {
			t.Errorf("FinalizersQueued = %d, want %d", s.FinalizersQueued, n)
		}
	})
}

func TestFinalizerOrdering(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		q := h.NewFinalizerQueue("q", nil)

		// b is registered first but referenced by a, so a goes first
		b := newNode(h, tt, 2)
		a := newNode(h, tt, 1)
		h.Store(a, 0, b)
		h.RegisterFinalizer(b, q)
		h.RegisterFinalizer(a, q)
		h.Release(a)
		h.Release(b)

		h.Collect()
		if got := drain(h, q); !slices.Equal(got, []uint64{1}) {
			t.Fatalf("first collection queued %v, want [1]", got)
		}
		h.Collect()
		if got := drain(h, q); !slices.Equal(got, []uint64{2}) {
			t.Fatalf("second collection queued %v, want [2]", got)
		}
	})
}

func TestFinalizerCycle(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		q := h.NewFinalizerQueue("q", nil)
		a := newNode(h, tt, 1)
		b := newNode(h, tt, 2)
		h.Store(a, 0, b)
		h.Store(b, 0, a)
		h.RegisterFinalizer(a, q)
		h.RegisterFinalizer(b, q)
		h.Release(a)
		h.Release(b)

		var got []uint64
		for i := 0; i < 4 && len(got) < 2; i++ {
			h.Collect()
			got = append(got, drain(h, q)...)
		}
		slices.Sort(got)
		if !slices.Equal(got, []uint64{1, 2}) {
			t.Errorf("cycle finalized %v, want [1 2]", got)
		}
		h.Collect()
		if c := h.Count(); c != 0 {
			t.Errorf("Count = %d after finalizing the cycle, want 0", c)
		}
	})
}

func TestFinalizerRegistration(t *testing.T) {
	h, tt := newTestHeap(t, Generational)
	other := New(testConfig(Generational))
	q := h.NewFinalizerQueue("q", nil)
	r := newNode(h, tt, 0)

	if err := h.RegisterFinalizer(r, q); err != nil {
		t.Fatal(err)
	}
	if err := h.RegisterFinalizer(r, q); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second registration: got %v, want ErrAlreadyRegistered", err)
	}
	if err := h.RegisterFinalizer(newNode(h, tt, 0), other.NewFinalizerQueue("x", nil)); err == nil {
		t.Errorf("registration with a foreign queue succeeded")
	}

	// once queued, the object may be registered again
	h.Release(r)
	h.Collect()
	r = q.NextDead()
	if r == 0 {
		t.Fatal("object not queued")
	}
	if err := h.RegisterFinalizer(r, q); err != nil {
		t.Errorf("re-registration after queueing: %v", err)
	}
}

func TestMayIgnoreFinalizer(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)
	q := h.NewFinalizerQueue("q", nil)
	r := newNode(h, tt, 0)
	h.RegisterFinalizer(r, q)
	h.MayIgnoreFinalizer(r)
	h.Release(r)
	h.Collect()
	if got := q.Len(); got != 0 {
		t.Errorf("ignorable finalizer queued %d objects", got)
	}
}

func TestTriggerRunsOutsideTheLock(t *testing.T) {
	h, tt := newTestHeap(t, Generational)
	calls := 0
	seen := 0
	q := h.NewFinalizerQueue("q", func(q *FinalizerQueue) {
		calls++
		seen = q.Len() // would deadlock under the heap lock
	})
	for i := 0; i < 3; i++ {
		r := newNode(h, tt, 0)
		h.RegisterFinalizer(r, q)
		h.Release(r)
	}
	h.Collect()
	if calls != 1 || seen != 3 {
		t.Errorf("trigger ran %d times and saw %d objects, want 1 and 3", calls, seen)
	}
	h.Collect()
	if calls != 1 {
		t.Errorf("trigger ran again without new objects")
	}
}

func TestTriggerPanicIsRecovered(t *testing.T) {
	h, tt := newTestHeap(t, SemiSpace)
	q := h.NewFinalizerQueue("q", func(*FinalizerQueue) { panic("boom") })
	r := newNode(h, tt, 0)
	h.RegisterFinalizer(r, q)
	h.Release(r)
	h.Collect()
	if got := q.Len(); got != 1 {
		t.Errorf("Len = %d after a panicking trigger, want 1", got)
	}
}

func TestLightFinalizers(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, _ := newTestHeap(t, v)
		res := h.MustRegisterType(TypeDesc{Name: "resource", FixedWords: 1})
		var closed []uint64
		err := h.RegisterCustomLightFinalizer(res, func(v View) {
			if v.TypeName() != "resource" {
				t.Errorf("light finalizer got a %s", v.TypeName())
			}
			closed = append(closed, v.Field(0))
		})
		if err != nil {
			t.Fatal(err)
		}

		keep := h.MustAllocate(res, 0)
		h.StoreWord(keep, 0, 100)
		for i := 1; i <= 3; i++ {
			r := h.MustAllocate(res, 0)
			h.StoreWord(r, 0, uint64(i))
			h.Release(r)
		}
		h.Collect()
		h.Collect()

		slices.Sort(closed)
		if !slices.Equal(closed, []uint64{1, 2, 3}) {
			t.Errorf("closed %v, want [1 2 3]", closed)
		}
	})
}
