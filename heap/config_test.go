package heap

import "testing"

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"semispace", SemiSpace, false},
		{"Generational", Generational, false},
		{" hybrid ", Hybrid, false},
		{"incminimark", IncMiniMark, false},
		{"marksweep", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseVariant(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseVariant(%q) error = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseVariant(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	for _, v := range Variants() {
		if got, _ := ParseVariant(v.String()); got != v {
			t.Errorf("%s does not round-trip", v)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{NurserySize: 1001, LargeObjectThreshold: 1 << 20, MajorGrowth: 0.5}.withDefaults()
	if c.NurserySize != 1008 {
		t.Errorf("NurserySize = %d, want 1008", c.NurserySize)
	}
	if c.LargeObjectThreshold != c.NurserySize {
		t.Errorf("LargeObjectThreshold = %d, want it clamped to the nursery", c.LargeObjectThreshold)
	}
	if c.MajorGrowth != DefaultMajorGrowth {
		t.Errorf("MajorGrowth = %v, want the default", c.MajorGrowth)
	}
	if c.SpaceSize != DefaultSpaceSize || c.MaxAllocRetries != DefaultMaxAllocRetries {
		t.Errorf("zero fields not defaulted: %+v", c)
	}
}

func TestNewHeapVariant(t *testing.T) {
	h := New(Config{Variant: Variant(42)})
	if h.Variant() != IncMiniMark {
		t.Errorf("unknown variant fell back to %s", h.Variant())
	}
	if h.Config().NurserySize != DefaultNurserySize {
		t.Errorf("effective config not defaulted")
	}
}
