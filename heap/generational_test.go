package heap

import (
	"slices"
	"testing"
)

func TestHybridPromotesToGen3(t *testing.T) {
	h, tt := newTestHeap(t, Hybrid)
	head := buildList(h, tt, 50)
	node := newNode(h, tt, 7)
	hash := h.IdentityHash(node)
	w, err := h.MakeWeak(node)
	if err != nil {
		t.Fatal(err)
	}

	rounds := h.Config().PromoteAge + 3
	for i := 0; i < rounds; i++ {
		h.Collect()
		if err := h.Verify(); err != nil {
			t.Fatalf("collect %d: %v", i+1, err)
		}
		if got := h.LoadWord(node, 1); got != 7 {
			t.Fatalf("collect %d: value = %d, want 7", i+1, got)
		}
	}

	if h.CanMove(node) || h.CanMove(head) {
		t.Errorf("objects older than PromoteAge are still movable")
	}
	if got := h.IdentityHash(node); got != hash {
		t.Errorf("hash changed across promotion: %d -> %d", hash, got)
	}
	got := h.Resolve(w)
	if !h.Same(got, node) {
		t.Errorf("weakref does not resolve to the promoted object")
	}
	h.Release(got)
	if vals := listValues(h, head); !slices.Equal(vals, descending(50)) {
		t.Errorf("list after promotion = %v", vals)
	}

	// gen3 objects still die
	h.Release(node)
	h.Collect()
	if got := h.Resolve(w); got != 0 {
		t.Errorf("Resolve of a dead gen3 object = %d, want nil", got)
	}
	if err := h.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestHybridGen3PointsIntoNursery(t *testing.T) {
	h, tt := newTestHeap(t, Hybrid)
	holder := newNode(h, tt, 1)
	for i := 0; i < h.Config().PromoteAge+1; i++ {
		h.Collect()
	}
	if h.CanMove(holder) {
		t.Fatalf("holder was not promoted")
	}

	young := newNode(h, tt, 2)
	h.Store(holder, 0, young)
	h.Release(young)
	h.CollectMinor()
	h.Collect()

	next := h.Load(holder, 0)
	if next == 0 || h.LoadWord(next, 1) != 2 {
		t.Errorf("young object referenced from gen3 was lost")
	}
	if err := h.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
