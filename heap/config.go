package heap

import (
	"fmt"
	"strings"
)

// Variant selects the collection algorithm of a heap. It is fixed for the
// lifetime of the heap.
type Variant int

const (
	SemiSpace Variant = iota
	Generational
	Hybrid
	IncMiniMark
)

var variantNames = [...]string{
	SemiSpace:    "semispace",
	Generational: "generational",
	Hybrid:       "hybrid",
	IncMiniMark:  "incminimark",
}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return fmt.Sprintf("Variant(%d)", int(v))
	}
	return variantNames[v]
}

// ParseVariant returns the variant with the given name.
func ParseVariant(s string) (Variant, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == name {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("unknown collector variant %q", s)
}

// Variants lists every collector variant.
func Variants() []Variant {
	return []Variant{SemiSpace, Generational, Hybrid, IncMiniMark}
}

// Config holds the tunables of a heap. Zero fields are replaced by the
// values from DefaultConfig when the heap is created.
type Config struct {
	Variant Variant

	// NurserySize is the size in bytes of the young generation.
	NurserySize int
	// SpaceSize is the initial size in bytes of a semispace, of the old
	// generation, or of the mark-sweep arena.
	SpaceSize int
	// MaxHeapSize caps the bytes reserved for spaces. Zero means no cap.
	MaxHeapSize int

	// Requests of at least LargeObjectThreshold bytes bypass the nursery.
	LargeObjectThreshold int

	// Arrays with at least CardThreshold items get one card per
	// CardPageItems items.
	CardPageItems int
	CardThreshold int

	// PromoteAge is the number of collections an object survives before
	// the hybrid collector moves it to the non-moving generation.
	PromoteAge int

	// MaxPinned is the number of distinct objects that may be pinned.
	MaxPinned int

	// MarkBudget is the number of objects traced per incremental marking
	// step, SweepBudget the number of blocks swept per step.
	MarkBudget  int
	SweepBudget int

	// MajorGrowth is the factor applied to the live old-space size to
	// compute the next major collection threshold.
	MajorGrowth float64

	// MaxAllocRetries bounds the collect-and-retry loop of Allocate.
	MaxAllocRetries int

	// HashSeed seeds identity hashes. Zero picks a fixed default.
	HashSeed uint64

	// Debug poisons reclaimed memory.
	Debug bool
}

// Default configuration values.
const (
	DefaultNurserySize          = 256 << 10
	DefaultSpaceSize            = 4 << 20
	DefaultLargeObjectThreshold = 16 << 10
	DefaultCardPageItems        = 128
	DefaultCardThreshold        = 256
	DefaultPromoteAge           = 3
	DefaultMaxPinned            = 100
	DefaultMarkBudget           = 512
	DefaultSweepBudget          = 1024
	DefaultMajorGrowth          = 1.82
	DefaultMaxAllocRetries      = 3
	DefaultHashSeed             = 0x9e3779b97f4a7c15
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Variant:              IncMiniMark,
		NurserySize:          DefaultNurserySize,
		SpaceSize:            DefaultSpaceSize,
		LargeObjectThreshold: DefaultLargeObjectThreshold,
		CardPageItems:        DefaultCardPageItems,
		CardThreshold:        DefaultCardThreshold,
		PromoteAge:           DefaultPromoteAge,
		MaxPinned:            DefaultMaxPinned,
		MarkBudget:           DefaultMarkBudget,
		SweepBudget:          DefaultSweepBudget,
		MajorGrowth:          DefaultMajorGrowth,
		MaxAllocRetries:      DefaultMaxAllocRetries,
		HashSeed:             DefaultHashSeed,
	}
}

// withDefaults fills zero fields and rounds sizes to whole words.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NurserySize <= 0 {
		c.NurserySize = d.NurserySize
	}
	if c.SpaceSize <= 0 {
		c.SpaceSize = d.SpaceSize
	}
	if c.LargeObjectThreshold <= 0 {
		c.LargeObjectThreshold = d.LargeObjectThreshold
	}
	if c.CardPageItems <= 0 {
		c.CardPageItems = d.CardPageItems
	}
	if c.CardThreshold <= 0 {
		c.CardThreshold = d.CardThreshold
	}
	if c.PromoteAge <= 0 {
		c.PromoteAge = d.PromoteAge
	}
	if c.MaxPinned <= 0 {
		c.MaxPinned = d.MaxPinned
	}
	if c.MarkBudget <= 0 {
		c.MarkBudget = d.MarkBudget
	}
	if c.SweepBudget <= 0 {
		c.SweepBudget = d.SweepBudget
	}
	if c.MajorGrowth <= 1 {
		c.MajorGrowth = d.MajorGrowth
	}
	if c.MaxAllocRetries <= 0 {
		c.MaxAllocRetries = d.MaxAllocRetries
	}
	if c.HashSeed == 0 {
		c.HashSeed = d.HashSeed
	}
	c.NurserySize = roundWords(c.NurserySize)
	c.SpaceSize = roundWords(c.SpaceSize)
	if c.LargeObjectThreshold > c.NurserySize {
		c.LargeObjectThreshold = c.NurserySize
	}
	return c
}

func roundWords(n int) int {
	return (n + WordSize - 1) &^ (WordSize - 1)
}
