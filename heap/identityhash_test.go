package heap

import "testing"

func TestIdentityHashStableAcrossCollections(t *testing.T) {
	forEachVariant(t, func(t *testing.T, v Variant) {
		h, tt := newTestHeap(t, v)
		a := newNode(h, tt, 1)
		b := newNode(h, tt, 2)
		before := h.Addr(a)
		ha := h.IdentityHash(a)
		hb := h.IdentityHash(b)
		if ha == hb {
			t.Errorf("two objects share hash %d", ha)
		}
		if ha < 0 || hb < 0 {
			t.Errorf("negative hash")
		}

		for i := 0; i < 3; i++ {
			h.Collect()
			h.CollectMinor()
			if got := h.IdentityHash(a); got != ha {
				t.Fatalf("hash changed after collection %d: %d -> %d", i, ha, got)
			}
		}
		if v == SemiSpace && h.Addr(a) == before {
			t.Errorf("semispace collection did not move the object")
		}
		if got := h.IdentityHash(b); got != hb {
			t.Errorf("second hash changed: %d -> %d", hb, got)
		}
	})
}

func TestIdentityHashTableForgetsDeadObjects(t *testing.T) {
	h, tt := newTestHeap(t, Hybrid)
	for i := 0; i < 10; i++ {
		r := newNode(h, tt, uint64(i))
		h.IdentityHash(r)
		h.Release(r)
	}
	keep := newNode(h, tt, 0)
	want := h.IdentityHash(keep)
	h.Collect()
	if got := len(h.hashes); got != 1 {
		t.Errorf("hash table has %d entries, want 1", got)
	}
	if got := h.IdentityHash(keep); got != want {
		t.Errorf("hash changed: %d -> %d", want, got)
	}
}

func TestIdentityHashSeed(t *testing.T) {
	h1, tt1 := newTestHeap(t, SemiSpace, func(c *Config) { c.HashSeed = 1 })
	h2, tt2 := newTestHeap(t, SemiSpace, func(c *Config) { c.HashSeed = 2 })
	a := newNode(h1, tt1, 0)
	b := newNode(h2, tt2, 0)
	if h1.Addr(a) != h2.Addr(b) {
		t.Skip("heaps laid out differently")
	}
	if h1.IdentityHash(a) == h2.IdentityHash(b) {
		t.Errorf("different seeds produced the same hash")
	}
}
