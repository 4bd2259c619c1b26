// mgc CLI - runs synthetic workloads against the managed heap and works
// with heap snapshots
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/chazu/mgc/config"
	"github.com/chazu/mgc/heap"
	"github.com/chazu/mgc/snapshot"
	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Path to mgc.toml (default: search upward from the working directory)")
	variant := flag.String("variant", "", "Collector variant: semispace, generational, hybrid, incminimark")
	mutators := flag.Int("mutators", 0, "Number of mutator goroutines")
	iterations := flag.Int("n", 0, "Iterations per mutator")
	output := flag.String("o", "", "Snapshot file (snapshot, export)")
	database := flag.String("db", "", "SQLite database (export)")
	compress := flag.Bool("z", false, "Compress the snapshot body")
	usePacer := flag.Bool("pacer", false, "Advance collections from a background pacer")
	verbosity := flag.Int("v", 0, "Log verbosity (overrides [log].verbosity when non-zero)")
	top := flag.Int("top", 10, "Number of types to list (export)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mgc [options] [run|snapshot|export|config]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a synthetic allocation workload on a managed heap.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run       Run the workload and print heap statistics (default)\n")
		fmt.Fprintf(os.Stderr, "  snapshot  Run the workload and write a heap snapshot\n")
		fmt.Fprintf(os.Stderr, "  export    Load a snapshot into SQLite and list the largest types\n")
		fmt.Fprintf(os.Stderr, "  config    Print the effective configuration\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mgc -variant hybrid -mutators 8 run\n")
		fmt.Fprintf(os.Stderr, "  mgc -z -o heap.mgcs snapshot\n")
		fmt.Fprintf(os.Stderr, "  mgc -o heap.mgcs -db heap.db -top 5 export\n")
	}
	flag.Parse()

	f, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *variant != "" {
		f.Heap.Variant = *variant
	}
	if *mutators > 0 {
		f.Workload.Mutators = *mutators
	}
	if *iterations > 0 {
		f.Workload.Iterations = *iterations
	}
	if *output != "" {
		f.Snapshot.Output = *output
	}
	if *database != "" {
		f.Snapshot.Database = *database
	}
	if *compress {
		f.Snapshot.Compress = true
	}
	if *usePacer {
		f.Workload.Pacer = true
	}
	if *verbosity != 0 {
		f.Log.Verbosity = *verbosity
	}

	var logPath *string
	if f.Log.Path != "" {
		logPath = &f.Log.Path
	}
	commonlog.Configure(f.Log.Verbosity, logPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := "run"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	switch cmd {
	case "run":
		_, err = runWorkload(ctx, f)
	case "snapshot":
		err = writeSnapshot(ctx, f)
	case "export":
		err = exportSnapshot(ctx, f, *top)
	case "config":
		err = f.Write(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.File, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	f, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return config.Default(), nil
	}
	return f, nil
}

// runWorkload builds a heap from f, runs the workload on it and prints a
// summary.
func runWorkload(ctx context.Context, f *config.File) (*heap.Heap, error) {
	cfg, err := f.HeapConfig()
	if err != nil {
		return nil, err
	}
	h := heap.New(cfg)
	w, err := newWorkload(h, f.Workload)
	if err != nil {
		return nil, err
	}

	var pacer *heap.Pacer
	if f.Workload.Pacer {
		pacer = heap.NewPacer(h, 0, 0)
		pacer.Start()
	}
	start := time.Now()
	err = w.run(ctx)
	elapsed := time.Since(start)
	if pacer != nil {
		pacer.Stop()
	}
	if err != nil {
		return nil, err
	}
	h.Collect()
	w.drainQueue()
	if err := h.Verify(); err != nil {
		return nil, err
	}

	s := h.Stats()
	eff := h.Config()
	fmt.Printf("%s\n", s)
	fmt.Printf("  nursery:      %s, space: %s\n", config.FormatSize(eff.NurserySize), config.FormatSize(eff.SpaceSize))
	fmt.Printf("  allocations:  %s (%s) in %s\n",
		humanize.Comma(int64(s.Allocations)), humanize.IBytes(s.AllocatedBytes), elapsed.Round(time.Millisecond))
	fmt.Printf("  finalized:    %d queued, %d light, %d weakrefs cleared\n",
		w.finalized.Load(), w.closed.Load(), s.WeakrefsCleared)
	fmt.Printf("  external:     %s\n", humanize.IBytes(uint64(s.ExternalBytes)))
	if pacer != nil {
		fmt.Printf("  pacer ticks:  %d\n", pacer.Ticks())
	}
	return h, nil
}

func writeSnapshot(ctx context.Context, f *config.File) error {
	h, err := runWorkload(ctx, f)
	if err != nil {
		return err
	}
	out, err := os.Create(f.Snapshot.Output)
	if err != nil {
		return err
	}
	hdr, err := snapshot.Write(out, h, snapshot.Options{Compress: f.Snapshot.Compress})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s: heap %s, %s objects\n", f.Snapshot.Output, hdr.HeapID, humanize.Comma(int64(hdr.RecordCount)))
	return nil
}

func exportSnapshot(ctx context.Context, f *config.File, top int) error {
	in, err := os.Open(f.Snapshot.Output)
	if err != nil {
		return err
	}
	s, err := snapshot.Read(in)
	in.Close()
	if err != nil {
		return err
	}
	if err := snapshot.Export(ctx, f.Snapshot.Database, s); err != nil {
		return err
	}
	stats, err := snapshot.TopTypes(ctx, f.Snapshot.Database, top)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s objects (%s) from a %s heap to %s\n",
		humanize.Comma(int64(len(s.Records))), humanize.IBytes(uint64(s.TotalBytes())), s.Variant, f.Snapshot.Database)
	for _, ts := range stats {
		fmt.Printf("  %-20s %10s objects %12s\n", ts.Name, humanize.Comma(int64(ts.Count)), humanize.IBytes(uint64(ts.Bytes)))
	}
	return nil
}
