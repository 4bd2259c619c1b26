// Package config handles mgc.toml configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/mgc/heap"
	"github.com/inhies/go-bytesize"
)

// FileName is the name of the configuration file.
const FileName = "mgc.toml"

// File represents an mgc.toml configuration.
type File struct {
	Heap     HeapSection     `toml:"heap"`
	Log      LogSection      `toml:"log"`
	Snapshot SnapshotSection `toml:"snapshot"`
	Workload WorkloadSection `toml:"workload"`

	// Dir is the directory containing the mgc.toml file (set at load time).
	Dir string `toml:"-"`
}

// HeapSection configures the heap. Sizes are strings such as "4MB" or
// "256KB"; a bare number is a byte count. Empty or zero values select the
// heap defaults.
type HeapSection struct {
	Variant              string  `toml:"variant"`
	NurserySize          string  `toml:"nursery-size"`
	SpaceSize            string  `toml:"space-size"`
	MaxHeapSize          string  `toml:"max-heap-size"`
	LargeObjectThreshold string  `toml:"large-object-threshold"`
	CardPageItems        int     `toml:"card-page-items"`
	CardThreshold        int     `toml:"card-threshold"`
	PromoteAge           int     `toml:"promote-age"`
	MaxPinned            int     `toml:"max-pinned"`
	MarkBudget           int     `toml:"mark-budget"`
	SweepBudget          int     `toml:"sweep-budget"`
	MajorGrowth          float64 `toml:"major-growth"`
	MaxAllocRetries      int     `toml:"max-alloc-retries"`
	HashSeed             int64   `toml:"hash-seed"`
	Debug                bool    `toml:"debug"`
}

// LogSection configures commonlog.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// SnapshotSection configures snapshot output.
type SnapshotSection struct {
	Output   string `toml:"output"`
	Compress bool   `toml:"compress"`
	Database string `toml:"database"`
}

// WorkloadSection configures the synthetic workload of the CLI.
type WorkloadSection struct {
	Mutators   int  `toml:"mutators"`
	Iterations int  `toml:"iterations"`
	ListLength int  `toml:"list-length"`
	Pacer      bool `toml:"pacer"`
}

// Default returns the configuration used when no file is found.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Heap.Variant == "" {
		f.Heap.Variant = heap.IncMiniMark.String()
	}
	if f.Snapshot.Output == "" {
		f.Snapshot.Output = "heap.mgcs"
	}
	if f.Snapshot.Database == "" {
		f.Snapshot.Database = "heap.db"
	}
	if f.Workload.Mutators <= 0 {
		f.Workload.Mutators = 4
	}
	if f.Workload.Iterations <= 0 {
		f.Workload.Iterations = 1000
	}
	if f.Workload.ListLength <= 0 {
		f.Workload.ListLength = 64
	}
}

// Load parses the mgc.toml file in dir.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	f.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return f, nil
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse error in %s: unknown key %s", path, undecoded[0])
	}
	f.Dir = filepath.Dir(path)
	f.applyDefaults()
	if _, err := f.HeapConfig(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &f, nil
}

// FindAndLoad walks up from startDir to find an mgc.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*File, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// HeapConfig converts the [heap] section to a heap configuration.
func (f *File) HeapConfig() (heap.Config, error) {
	h := f.Heap
	variant, err := heap.ParseVariant(h.Variant)
	if err != nil {
		return heap.Config{}, err
	}
	cfg := heap.Config{
		Variant:         variant,
		CardPageItems:   h.CardPageItems,
		CardThreshold:   h.CardThreshold,
		PromoteAge:      h.PromoteAge,
		MaxPinned:       h.MaxPinned,
		MarkBudget:      h.MarkBudget,
		SweepBudget:     h.SweepBudget,
		MajorGrowth:     h.MajorGrowth,
		MaxAllocRetries: h.MaxAllocRetries,
		HashSeed:        uint64(h.HashSeed),
		Debug:           h.Debug,
	}
	sizes := []struct {
		key string
		val string
		dst *int
	}{
		{"nursery-size", h.NurserySize, &cfg.NurserySize},
		{"space-size", h.SpaceSize, &cfg.SpaceSize},
		{"max-heap-size", h.MaxHeapSize, &cfg.MaxHeapSize},
		{"large-object-threshold", h.LargeObjectThreshold, &cfg.LargeObjectThreshold},
	}
	for _, s := range sizes {
		n, err := ParseSize(s.val)
		if err != nil {
			return heap.Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
		*s.dst = n
	}
	return cfg, nil
}

// ParseSize parses a byte size such as "4MB", "512 KB" or "1024". An
// empty string is zero.
func ParseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size %q", s)
		}
		return n, nil
	}
	b, err := bytesize.Parse(strings.ToUpper(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if b < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return int(b), nil
}

// FormatSize renders n bytes the way ParseSize accepts them.
func FormatSize(n int) string {
	return bytesize.New(float64(n)).String()
}

// Write encodes f as TOML.
func (f *File) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(f)
}
