package heap

import (
	"errors"
	"slices"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testTypes struct {
	node  TypeID // field 0: next, field 1: value
	array TypeID // varsized, one reference per item
	bytes TypeID // varsized, one raw word per item
}

func testConfig(v Variant) Config {
	return Config{
		Variant:              v,
		NurserySize:          4 << 10,
		SpaceSize:            64 << 10,
		LargeObjectThreshold: 1 << 10,
		CardPageItems:        16,
		CardThreshold:        32,
		MarkBudget:           16,
		SweepBudget:          64,
		Debug:                true,
	}
}

func newTestHeap(t *testing.T, v Variant, tweaks ...func(*Config)) (*Heap, testTypes) {
	t.Helper()
	cfg := testConfig(v)
	for _, fn := range tweaks {
		fn(&cfg)
	}
	h := New(cfg)
	tt := testTypes{
		node:  h.MustRegisterType(TypeDesc{Name: "node", FixedWords: 2, RefWords: []int{0}}),
		array: h.MustRegisterType(TypeDesc{Name: "array", Varsized: true, ItemWords: 1, ItemRefWords: []int{0}}),
		bytes: h.MustRegisterType(TypeDesc{Name: "bytes", Varsized: true, ItemWords: 1}),
	}
	return h, tt
}

func forEachVariant(t *testing.T, fn func(t *testing.T, v Variant)) {
	for _, v := range Variants() {
		t.Run(v.String(), func(t *testing.T) {
			fn(t, v)
		})
	}
}

func newNode(h *Heap, tt testTypes, value uint64) Ref {
	r := h.MustAllocate(tt.node, 0)
	h.StoreWord(r, 1, value)
	return r
}

// buildList returns the head of a list holding n-1 down to 0.
func buildList(h *Heap, tt testTypes, n int) Ref {
	var head Ref
	for i := 0; i < n; i++ {
		node := newNode(h, tt, uint64(i))
		if head != 0 {
			h.Store(node, 0, head)
			h.Release(head)
		}
		head = node
	}
	return head
}

func listValues(h *Heap, head Ref) []uint64 {
	var out []uint64
	cur := h.Dup(head)
	for cur != 0 {
		out = append(out, h.LoadWord(cur, 1))
		next := h.Load(cur, 0)
		h.Release(cur)
		cur = next
	}
	return out
}

func descending(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(n - 1 - i)
	}
	return out
}

// ---------------------------------------------------------------------------
// Allocation and collection
// ---------------------------------------------------------------------------

func TestCollectPreservesGraph(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		head := buildList(h, tt, 300)

		want := descending(300)
		if got := listValues(h, head); !slices.Equal(got, want) {
			t.Fatalf("before collection: got %d values, want %d", len(got), len(want))
		}
		h.Collect()
		if got := listValues(h, head); !slices.Equal(got, want) {
			t.Fatalf("after Collect: list corrupted")
		}
		h.CollectMinor()
		if got := listValues(h, head); !slices.Equal(got, want) {
			t.Fatalf("after CollectMinor: list corrupted")
		}
		if err := h.Verify(); err != nil {
			t.Fatalf("Verify: %v", err)
		}
	})
}

func TestUnreachableObjectsAreReclaimed(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		keep := newNode(h, tt, 7)
		h.Release(buildList(h, tt, 200))

		h.Collect()
		if got := h.Count(); got != 1 {
			t.Errorf("Count after Collect = %d, want 1", got)
		}
		if got := h.LoadWord(keep, 1); got != 7 {
			t.Errorf("survivor value = %d, want 7", got)
		}
		if s := h.Stats(); s.MajorCollections == 0 {
			t.Errorf("MajorCollections = 0 after Collect")
		}
	})
}

func TestAllocateErrors(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)

	if _, err := h.Allocate(TypeID(999), 0); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: got %v, want ErrUnknownType", err)
	}
	if _, err := h.Allocate(typeWeakref, 0); !errors.Is(err, ErrUnknownType) {
		t.Errorf("builtin type: got %v, want ErrUnknownType", err)
	}
	if _, err := h.Allocate(tt.node, 3); !errors.Is(err, ErrNotVarsized) {
		t.Errorf("length on fixed type: got %v, want ErrNotVarsized", err)
	}
	if _, err := h.Allocate(tt.array, -1); !errors.Is(err, ErrBadLength) {
		t.Errorf("negative length: got %v, want ErrBadLength", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v, func(c *Config) { c.MaxHeapSize = 256 << 10 })

		var live []Ref
		var err error
		for i := 0; i < 10000; i++ {
			var r Ref
			if r, err = h.Allocate(tt.bytes, 100); err != nil {
				break
			}
			h.StoreItemWord(r, 0, 0, uint64(i))
			live = append(live, r)
		}
		if !errors.Is(err, ErrOutOfMemory) {
			t.Fatalf("got %v after %d allocations, want ErrOutOfMemory", err, len(live))
		}
		for i, r := range live {
			if got := h.LoadItemWord(r, 0, 0); got != uint64(i) {
				t.Fatalf("object %d holds %d after OOM", i, got)
			}
		}

		// freeing memory makes allocation possible again
		for _, r := range live {
			h.Release(r)
		}
		if _, err := h.Allocate(tt.bytes, 100); err != nil {
			t.Fatalf("Allocate after release: %v", err)
		}
	})
}

func TestLargeObjectsBypassNursery(t *testing.T) {
	for _, v := range []Variant{Generational, Hybrid, IncMiniMark} {
		t.Run(v.String(), func(t *testing.T) {
			h, tt := newTestHeap(t, v)
			small := h.MustAllocate(tt.bytes, 4)
			large := h.MustAllocate(tt.bytes, 200)

			if !h.gc.isYoung(h.Addr(small)) {
				t.Errorf("small object not in the nursery")
			}
			if h.gc.isYoung(h.Addr(large)) {
				t.Errorf("large object in the nursery")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

func TestCollectStepTransitions(t *testing.T) {
	tests := []struct {
		variant Variant
		want    []GCState
	}{
		{SemiSpace, []GCState{ScanningRoots, Copying, Sweeping, Idle}},
		{Generational, []GCState{ScanningRoots, Copying, Sweeping, Idle}},
		{Hybrid, []GCState{ScanningRoots, Copying, Sweeping, Idle}},
	}
	for _, tc := range tests {
		t.Run(tc.variant.String(), func(t *testing.T) {
			h, tt := newTestHeap(t, tc.variant)
			head := buildList(h, tt, 50)

			var got []GCState
			prev := Idle
			for {
				r := h.CollectStep()
				if r.Old != prev {
					t.Fatalf("step started in %s, previous step ended in %s", r.Old, prev)
				}
				prev = r.New
				got = append(got, r.New)
				if r.Done() {
					break
				}
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("states = %v, want %v", got, tc.want)
			}
			if vals := listValues(h, head); !slices.Equal(vals, descending(50)) {
				t.Errorf("list corrupted by stepping")
			}
		})
	}
}

func TestIncrementalCollectionIsBounded(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)
	const n = 500
	head := buildList(h, tt, n)
	h.Release(buildList(h, tt, n))
	want := descending(n)
	// allocation may already have started a cycle
	for h.State() != Idle {
		h.CollectStep()
	}

	steps := 0
	prev := Idle
	seen := map[GCState]bool{}
	for {
		r := h.CollectStep()
		steps++
		if r.Old != prev {
			t.Fatalf("step %d started in %s, previous ended in %s", steps, r.Old, prev)
		}
		prev = r.New
		seen[r.New] = true

		// the mutator may run between any two steps
		if err := h.Verify(); err != nil {
			t.Fatalf("step %d (%s): %v", steps, r, err)
		}
		if got := listValues(h, head); !slices.Equal(got, want) {
			t.Fatalf("step %d (%s): list corrupted", steps, r)
		}
		extra := newNode(h, tt, 1)
		h.Store(extra, 0, head)
		h.Release(extra)

		if r.Done() {
			break
		}
		if steps > 400 {
			t.Fatalf("cycle not finished after %d steps", steps)
		}
	}
	for _, s := range []GCState{ScanningRoots, Marking, Sweeping} {
		if !seen[s] {
			t.Errorf("cycle never entered %s", s)
		}
	}
	if steps < 4 {
		t.Errorf("cycle took %d steps, expected it to be spread out", steps)
	}
}

func TestMutationDuringMarking(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)
	holder := newNode(h, tt, 0)
	list := buildList(h, tt, 200)
	h.Store(holder, 0, list)
	h.Release(list)
	h.Collect()

	// holder is the only root, so it is black after the first marking step
	for h.State() != Marking {
		h.CollectStep()
	}

	// splice a fresh object between the marked holder and the list
	fresh := newNode(h, tt, 99)
	old := h.Load(holder, 0)
	h.Store(fresh, 0, old)
	h.Store(holder, 0, fresh)
	h.Release(fresh)
	h.Release(old)

	for !h.CollectStep().Done() {
	}
	h.Collect()

	want := append([]uint64{0, 99}, descending(200)...)
	if got := listValues(h, holder); !slices.Equal(got, want) {
		t.Fatalf("got %d values after marking, want %d", len(got), len(want))
	}
	if err := h.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

func TestScopeReleasesHandles(t *testing.T) {
	h, tt := newTestHeap(t, Generational)
	before := h.roots.count

	s := h.NewScope()
	a := s.Own(newNode(h, tt, 1))
	s.Own(newNode(h, tt, 2))
	kept := s.Own(newNode(h, tt, 3))
	s.Escape(kept)
	h.Collect()
	out := s.Close()

	if got := h.roots.count; got != before+1 {
		t.Errorf("live handles = %d, want %d", got, before+1)
	}
	if len(out) != 1 || h.LoadWord(out[0], 1) != 3 {
		t.Fatalf("escaped handle does not refer to the escaped object")
	}
	if s.Close() != nil {
		t.Errorf("second Close returned handles")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("use of a released handle did not panic")
		}
	}()
	h.LoadWord(a, 1)
}

func TestScopeKeepsOtherMutatorsHandles(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)
	opened := make(chan struct{})
	allocated := make(chan Ref)
	closed := make(chan struct{})

	go func() {
		s := h.NewScope()
		s.Own(newNode(h, tt, 1))
		close(opened)
		<-allocated
		s.Close()
		close(closed)
	}()

	<-opened
	mine := newNode(h, tt, 2)
	allocated <- mine
	<-closed
	if got := h.LoadWord(mine, 1); got != 2 {
		t.Errorf("LoadWord = %d, want 2", got)
	}
}

func TestScopeWrappers(t *testing.T) {
	h, tt := newTestHeap(t, SemiSpace)
	before := h.roots.count
	list := buildList(h, tt, 3)

	s := h.NewScope()
	next := s.Load(list, 0)
	arr, err := s.Allocate(tt.array, 2)
	if err != nil {
		t.Fatal(err)
	}
	h.StoreItem(arr, 0, 0, next)
	item := s.LoadItem(arr, 0, 0)
	d := s.Dup(item)
	s.Release(d)
	s.Escape(arr)
	out := s.Close()

	if len(out) != 1 || out[0] != arr {
		t.Fatalf("Close = %v, want [%d]", out, arr)
	}
	if got := h.roots.count; got != before+2 {
		t.Errorf("live handles = %d, want %d", got, before+2)
	}
	if got := h.LoadWord(h.LoadItem(arr, 0, 0), 1); got != 1 {
		t.Errorf("escaped array item = %d, want 1", got)
	}
}

func TestDupAndSame(t *testing.T) {
	h, tt := newTestHeap(t, SemiSpace)
	a := newNode(h, tt, 1)
	b := h.Dup(a)
	if a == b {
		t.Fatalf("Dup returned the same handle")
	}
	h.Collect()
	if !h.Same(a, b) {
		t.Errorf("handles diverged after a moving collection")
	}
	h.Release(a)
	if got := h.LoadWord(b, 1); got != 1 {
		t.Errorf("value through duplicate = %d, want 1", got)
	}
}
