package heap

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Pacer: background collection steps
// ---------------------------------------------------------------------------

// PacerStats describes one tick of a Pacer.
type PacerStats struct {
	Steps     int
	Completed bool
	State     GCState
	Duration  time.Duration
	Timestamp time.Time
}

// Pacer advances the major collection from a background goroutine while a
// cycle is in progress or due, so that incremental collectors make
// progress even when the mutator allocates little. Each tick performs at
// most StepsPerTick steps; the mutator is blocked only for one step at a
// time.
type Pacer struct {
	h        *Heap
	interval time.Duration
	perTick  int
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	ticks     atomic.Uint64
	lastStats atomic.Value // *PacerStats
}

// DefaultPacerInterval is the default tick interval.
const DefaultPacerInterval = 10 * time.Millisecond

// DefaultStepsPerTick is the default number of steps per tick.
const DefaultStepsPerTick = 4

// NewPacer creates a pacer for h. Non-positive arguments select the
// defaults.
func NewPacer(h *Heap, interval time.Duration, stepsPerTick int) *Pacer {
	if interval <= 0 {
		interval = DefaultPacerInterval
	}
	if stepsPerTick <= 0 {
		stepsPerTick = DefaultStepsPerTick
	}
	p := &Pacer{
		h:        h,
		interval: interval,
		perTick:  stepsPerTick,
	}
	p.enabled.Store(true)
	return p
}

// Start begins the background goroutine. Calling Start on a running pacer
// does nothing.
func (p *Pacer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}

	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})

	// the goroutine must not read the fields after Stop clears them
	stopCh := p.stop
	stoppedCh := p.stopped
	go p.loop(stopCh, stoppedCh)
}

// Stop halts the goroutine and waits for it to finish. It is safe to call
// Stop more than once or on a pacer that was never started.
func (p *Pacer) Stop() {
	p.mu.Lock()
	stopCh := p.stop
	stoppedCh := p.stopped
	p.stop = nil
	p.stopped = nil
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables stepping. A disabled pacer keeps ticking
// but does nothing.
func (p *Pacer) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

// IsEnabled reports whether stepping is enabled.
func (p *Pacer) IsEnabled() bool {
	return p.enabled.Load()
}

// Interval returns the tick interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Ticks returns the number of ticks that did work.
func (p *Pacer) Ticks() uint64 {
	return p.ticks.Load()
}

// LastStats returns the statistics of the latest tick that did work, or
// nil if there was none.
func (p *Pacer) LastStats() *PacerStats {
	v := p.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*PacerStats)
}

// StepNow performs a tick immediately.
func (p *Pacer) StepNow() *PacerStats {
	return p.tick()
}

func (p *Pacer) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if p.enabled.Load() {
				p.tick()
			}
		}
	}
}

// tick runs up to perTick steps while a cycle is in progress or due. Each
// step takes the heap lock separately.
func (p *Pacer) tick() *PacerStats {
	start := time.Now()
	stats := &PacerStats{Timestamp: start}
	for stats.Steps < p.perTick && p.h.pacerShouldStep() {
		r := p.h.CollectStep()
		stats.Steps++
		stats.State = r.New
		if r.Done() {
			stats.Completed = true
			break
		}
	}
	if stats.Steps == 0 {
		return stats
	}
	stats.Duration = time.Since(start)
	p.ticks.Add(1)
	p.lastStats.Store(stats)
	if stats.Completed {
		log.Debugf("pacer finished a %s cycle", p.h.cfg.Variant)
	}
	return stats
}

func (h *Heap) pacerShouldStep() bool {
	h.lock()
	defer h.unlock()
	return h.gc.state() != Idle || h.gc.majorDue()
}
