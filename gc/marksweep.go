// ABOUTME: Collector context that owns the in-flight collection
// ABOUTME: Assembles the root set across threads and globals and runs a full cycle

package gc

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/prateek/marksweep/fatal"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/infra"
	"github.com/prateek/marksweep/roots"
	"github.com/prateek/marksweep/thread"
)

// Totals accumulates statistics over the lifetime of a collector.
type Totals struct {
	Collections    uint64
	Reclaimed      uint64
	ReclaimedBytes uint64
	Last           Stats
}

// MarkAndSweep is a stop-the-world mark-and-sweep collector over one heap.
// At most one collection is in flight at a time.
type MarkAndSweep struct {
	heap    *heap.Heap
	threads *thread.Registry
	globals *roots.Globals

	world     World
	log       zerolog.Logger
	onReclaim ReclaimHook

	threshold                atomic.Uint64
	allocationThresholdBytes atomic.Uint64

	current atomic.Pointer[Collection]

	mu     sync.Mutex
	totals Totals
}

// Option configures a MarkAndSweep.
type Option func(*MarkAndSweep)

// WithConfig sets the trigger thresholds.
func WithConfig(cfg Config) Option {
	return func(ms *MarkAndSweep) {
		ms.threshold.Store(cfg.Threshold)
		ms.allocationThresholdBytes.Store(cfg.AllocationThresholdBytes)
	}
}

// WithWorld sets the stop-the-world precondition. The default is AssumeStopped.
func WithWorld(w World) Option {
	return func(ms *MarkAndSweep) {
		ms.world = w
	}
}

// WithLogger sets the logger. The default is infra.Logger.
func WithLogger(l zerolog.Logger) Option {
	return func(ms *MarkAndSweep) {
		ms.log = l
	}
}

// WithReclaimHook installs a hook run synchronously for every swept object.
func WithReclaimHook(hook ReclaimHook) Option {
	return func(ms *MarkAndSweep) {
		ms.onReclaim = hook
	}
}

// New creates a collector for h whose roots come from threads and globals.
func New(h *heap.Heap, threads *thread.Registry, globals *roots.Globals, opts ...Option) *MarkAndSweep {
	ms := &MarkAndSweep{
		heap:    h,
		threads: threads,
		globals: globals,
		world:   AssumeStopped{},
		log:     infra.Logger,
	}
	WithConfig(DefaultConfig())(ms)
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MarkAndSweep) Threshold() uint64 {
	return ms.threshold.Load()
}

func (ms *MarkAndSweep) SetThreshold(n uint64) {
	ms.threshold.Store(n)
}

func (ms *MarkAndSweep) AllocationThresholdBytes() uint64 {
	return ms.allocationThresholdBytes.Load()
}

func (ms *MarkAndSweep) SetAllocationThresholdBytes(n uint64) {
	ms.allocationThresholdBytes.Store(n)
}

// Phase reports the phase of the in-flight collection, or Idle.
func (ms *MarkAndSweep) Phase() Phase {
	if c := ms.current.Load(); c != nil {
		return c.Phase()
	}
	return Idle
}

// Totals returns the accumulated statistics.
func (ms *MarkAndSweep) Totals() Totals {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.totals
}

// PerformFullGC runs one complete cycle on the calling thread. initiator is
// the thread whose heuristic fired, or nil when the collection is requested
// from outside any registered thread. Starting a collection while another
// one is in flight is a fatal error.
func (ms *MarkAndSweep) PerformFullGC(initiator *thread.Data) Stats {
	c := NewCollection(ms.heap, nil, ms.onReclaim)
	fatal.Assert(ms.current.CompareAndSwap(nil, c), "Cannot have been called during another collection")
	defer ms.current.Store(nil)

	ms.world.EnsureStopped(initiator, ms.threads)

	var rootSet []heap.Ref
	for d := range ms.threads.Iter() {
		d.Publish()
		rootSet = slices.AppendSeq(rootSet, roots.ThreadRoots(d))
	}
	rootSet = slices.AppendSeq(rootSet, roots.GlobalRoots(ms.globals))
	c.setRoots(rootSet)

	c.Mark()
	c.Sweep()

	stats := c.Stats()
	ms.mu.Lock()
	ms.totals.Collections++
	ms.totals.Reclaimed += uint64(stats.Reclaimed)
	ms.totals.ReclaimedBytes += stats.ReclaimedBytes
	ms.totals.Last = stats
	cycle := ms.totals.Collections
	ms.mu.Unlock()

	ms.log.Debug().
		Uint64("cycle", cycle).
		Int("roots", stats.Roots).
		Int("marked", stats.Marked).
		Int("retained", stats.Retained).
		Int("reclaimed", stats.Reclaimed).
		Uint64("reclaimed_bytes", stats.ReclaimedBytes).
		Dur("mark", stats.MarkDuration).
		Dur("sweep", stats.SweepDuration).
		Msg("full gc finished")
	return stats
}
