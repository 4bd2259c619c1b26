package heap

import "testing"

func TestMemoryPressureFollowsOwner(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		owner := newNode(h, tt, 0)
		h.AddMemoryPressure(1000, owner)
		h.AddMemoryPressure(24, 0)
		h.AddMemoryPressure(-5, owner)
		if got := h.ExternalMemory(); got != 1024 {
			t.Fatalf("ExternalMemory = %d, want 1024", got)
		}

		h.Collect()
		if got := h.ExternalMemory(); got != 1024 {
			t.Errorf("ExternalMemory with a live owner = %d, want 1024", got)
		}
		h.Release(owner)
		h.Collect()
		if got := h.ExternalMemory(); got != 24 {
			t.Errorf("ExternalMemory after the owner died = %d, want 24", got)
		}
	})
}

func TestMemoryPressureTriggersMajor(t *testing.T) {
	for _, v := range []Variant{SemiSpace, Generational, Hybrid} {
		h, tt := newTestHeap(t, v)
		owner := newNode(h, tt, 0)
		before := h.Stats().MajorCollections
		h.AddMemoryPressure(1<<20, owner)
		if got := h.Stats().MajorCollections; got <= before {
			t.Errorf("%s: pressure did not start a major collection", v)
		}
	}

	h, tt := newTestHeap(t, IncMiniMark)
	owner := newNode(h, tt, 0)
	h.AddMemoryPressure(1<<20, owner)
	if h.State() == Idle && h.Stats().MajorCollections == 0 {
		t.Errorf("incminimark: pressure did not start a major cycle")
	}
}
