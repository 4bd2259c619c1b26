package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/mgc/heap"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
variant = "hybrid"
nursery-size = "512KB"
space-size = "8MB"
max-heap-size = "1048576"
promote-age = 5
debug = true

[log]
verbosity = 2

[snapshot]
output = "out.mgcs"
compress = true

[workload]
mutators = 8
`)
	f, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Snapshot.Output != "out.mgcs" || !f.Snapshot.Compress {
		t.Errorf("snapshot section = %+v", f.Snapshot)
	}
	if f.Snapshot.Database != "heap.db" {
		t.Errorf("Database default = %q", f.Snapshot.Database)
	}
	if f.Workload.Mutators != 8 || f.Workload.Iterations != 1000 {
		t.Errorf("workload section = %+v", f.Workload)
	}
	if f.Log.Verbosity != 2 {
		t.Errorf("Verbosity = %d, want 2", f.Log.Verbosity)
	}

	cfg, err := f.HeapConfig()
	if err != nil {
		t.Fatalf("HeapConfig: %v", err)
	}
	if cfg.Variant != heap.Hybrid {
		t.Errorf("Variant = %s, want hybrid", cfg.Variant)
	}
	if cfg.NurserySize != 512<<10 || cfg.SpaceSize != 8<<20 {
		t.Errorf("sizes = %d / %d", cfg.NurserySize, cfg.SpaceSize)
	}
	if cfg.PromoteAge != 5 || !cfg.Debug {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[heap\n", "parse error"},
		{"unknown key", "[heap]\ncolour = 1\n", "unknown key"},
		{"bad variant", "[heap]\nvariant = \"refcount\"\n", "unknown collector variant"},
		{"bad size", "[heap]\nspace-size = \"lots\"\n", "space-size"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tc.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("got %v, want an error containing %q", err, tc.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[heap]\nvariant = \"semispace\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	f, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if f == nil || f.Heap.Variant != "semispace" {
		t.Fatalf("FindAndLoad = %+v", f)
	}
	if abs, _ := filepath.Abs(root); f.Dir != abs {
		t.Errorf("Dir = %q, want %q", f.Dir, abs)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"4096", 4096, false},
		{"4KB", 4 << 10, false},
		{"2mb", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"-1", 0, true},
		{"many", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSize(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDefaultRoundTrip(t *testing.T) {
	f := Default()
	f.Heap.SpaceSize = FormatSize(4 << 20)
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	writeConfig(t, dir, buf.String())
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load of written config: %v", err)
	}
	cfg, err := got.HeapConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Variant != heap.IncMiniMark || cfg.SpaceSize != 4<<20 {
		t.Errorf("round-tripped config = %+v", cfg)
	}
}
