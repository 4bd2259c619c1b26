package heap

import (
	"strings"
	"testing"
)

func TestRootsAndReferents(t *testing.T) {
	h, tt := newTestHeap(t, Generational)
	a := newNode(h, tt, 1)
	b := newNode(h, tt, 2)
	h.Store(a, 0, b)
	dup := h.Dup(a)

	roots := h.Roots()
	if len(roots) != 2 {
		t.Fatalf("Roots = %d handles, want 2", len(roots))
	}
	for _, r := range roots {
		h.Release(r)
	}
	h.Release(dup)

	refs := h.Referents(a)
	if len(refs) != 1 || !h.Same(refs[0], b) {
		t.Fatalf("Referents(a) = %v", refs)
	}
	if refs := h.Referents(b); len(refs) != 0 {
		t.Errorf("Referents(b) = %d handles, want 0", len(refs))
	}
	if got := h.MemoryUsage(a); got != 3*WordSize {
		t.Errorf("MemoryUsage = %d, want %d", got, 3*WordSize)
	}
	if got := h.TypeIndex(a); got != tt.node {
		t.Errorf("TypeIndex = %d, want %d", got, tt.node)
	}
}

func TestRootsIncludeQueuedObjects(t *testing.T) {
	h, tt := newTestHeap(t, SemiSpace)
	q := h.NewFinalizerQueue("q", nil)
	r := newNode(h, tt, 0)
	h.RegisterFinalizer(r, q)
	h.Release(r)
	h.Collect()
	if got := len(h.Roots()); got != 1 {
		t.Errorf("Roots = %d handles, want the queued object", got)
	}
}

func TestWalk(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		head := buildList(h, tt, 5)
		garbage := newNode(h, tt, 99)
		h.Release(garbage)

		var infos []ObjectInfo
		h.Walk(func(info ObjectInfo) bool {
			infos = append(infos, info)
			return true
		})
		if len(infos) != 5 {
			t.Fatalf("Walk reported %d objects, want 5", len(infos))
		}
		roots := 0
		for _, info := range infos {
			if info.TypeName != "node" || info.Size != 3*WordSize {
				t.Errorf("unexpected object %+v", info)
			}
			if info.Root {
				roots++
				if info.Addr != h.Addr(head) || len(info.Refs) != 1 {
					t.Errorf("root is not the list head: %+v", info)
				}
			}
		}
		if roots != 1 {
			t.Errorf("Walk reported %d roots, want 1", roots)
		}

		n := 0
		h.Walk(func(ObjectInfo) bool {
			n++
			return false
		})
		if n != 1 {
			t.Errorf("Walk continued after fn returned false")
		}
	})
}

func TestInspect(t *testing.T) {
	h, tt := newTestHeap(t, IncMiniMark)
	a := newNode(h, tt, 1)
	b := newNode(h, tt, 2)
	h.Store(a, 0, b)
	h.Store(b, 0, a)
	arr := h.MustAllocate(tt.bytes, 20)

	res := h.Inspect(a, -1)
	if res.TypeName != "node" || len(res.Fields) != 2 {
		t.Fatalf("Inspect(a) = %+v", res)
	}
	if !res.Fields[0].IsRef || res.Fields[0].Ref == nil || res.Fields[0].Ref.TypeName != "node" {
		t.Errorf("reference field not expanded: %+v", res.Fields[0])
	}
	if res.Fields[1].Word != 1 {
		t.Errorf("value field = %d, want 1", res.Fields[1].Word)
	}
	// the cycle back to a is reported without expansion
	if back := res.Fields[0].Ref.Fields[0].Ref; back == nil || len(back.Fields) != 0 {
		t.Errorf("cycle was expanded: %+v", back)
	}
	if s := res.String(); !strings.Contains(s, "a node") {
		t.Errorf("String() = %q", s)
	}
	if s := res.PrettyPrint(); !strings.Contains(s, "node") {
		t.Errorf("PrettyPrint() = %q", s)
	}

	ar := h.Inspect(arr, 1)
	if ar.Len != 20 || len(ar.Items) != MaxItemPreview {
		t.Errorf("array inspection: len %d, %d items", ar.Len, len(ar.Items))
	}
	if shallow := h.Inspect(a, 0); len(shallow.Fields) != 0 {
		t.Errorf("depth 0 expanded fields")
	}
}

func TestStatsString(t *testing.T) {
	h, tt := newTestHeap(t, Hybrid)
	buildList(h, tt, 500)
	h.Collect()
	s := h.Stats()
	if s.Variant != Hybrid || s.State != Idle {
		t.Errorf("Stats = %+v", s)
	}
	if s.MajorCollections == 0 || s.MinorCollections == 0 {
		t.Errorf("collections not counted: %d minor, %d major", s.MinorCollections, s.MajorCollections)
	}
	if s.Allocations != 500 || s.AllocatedBytes != 500*3*WordSize {
		t.Errorf("allocations = %d (%d bytes)", s.Allocations, s.AllocatedBytes)
	}
	if s.PeakMemory < s.TotalMemory {
		t.Errorf("peak %d below current %d", s.PeakMemory, s.TotalMemory)
	}
	if str := s.String(); !strings.Contains(str, "hybrid heap") || !strings.Contains(str, "KiB") {
		t.Errorf("String() = %q", str)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	h, tt := newTestHeap(t, SemiSpace)
	a := newNode(h, tt, 0)
	b := newNode(h, tt, 0)
	h.Store(a, 0, b)
	if err := h.Verify(); err != nil {
		t.Fatalf("Verify on a sound heap: %v", err)
	}
	// point a's field into the middle of b
	h.mem.storeAddr(h.fieldAddr(h.Addr(a), h.types[tt.node], 0), h.Addr(b)+WordSize)
	if err := h.Verify(); err == nil {
		t.Errorf("Verify accepted a dangling interior pointer")
	}
}
