// ABOUTME: Main marksweep package wiring heap, threads, roots and collector together
// ABOUTME: Memory is the entry point embedders and tools build on

// Package marksweep is a stop-the-world mark-and-sweep memory manager.
// Memory bundles an object heap, the registry of mutator threads, the
// process-wide globals and the collector that reclaims unreachable
// objects between them. The graph and heapdump packages inspect and load
// heaps built here.
package marksweep

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prateek/marksweep/gc"
	"github.com/prateek/marksweep/graph"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/infra"
	"github.com/prateek/marksweep/roots"
	"github.com/prateek/marksweep/thread"
)

// Version is the semantic version of the marksweep module
const Version = "0.1.0-dev"

// Options configures a Memory. The zero Config collects at every
// safepoint and allocation; start from DefaultOptions for the usual
// thresholds.
type Options struct {
	Config            gc.Config
	HeapCapacityBytes uint64
	// Logger defaults to infra.Logger.
	Logger *zerolog.Logger
	// World defaults to gc.AssumeStopped.
	World       gc.World
	ReclaimHook gc.ReclaimHook
}

// DefaultOptions returns the default collector thresholds and an unbounded heap.
func DefaultOptions() Options {
	return Options{Config: gc.DefaultConfig()}
}

// Memory is one managed heap with its threads, globals and collector.
type Memory struct {
	heap    *heap.Heap
	threads *thread.Registry
	globals *roots.Globals
	gc      *gc.MarkAndSweep
}

// New creates an empty Memory.
func New(opts Options) *Memory {
	h := heap.New(heap.Options{CapacityBytes: opts.HeapCapacityBytes})
	threads := thread.NewRegistry(h)
	globals := roots.NewGlobals()

	logger := infra.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	gcOpts := []gc.Option{gc.WithConfig(opts.Config), gc.WithLogger(logger)}
	if opts.World != nil {
		gcOpts = append(gcOpts, gc.WithWorld(opts.World))
	}
	if opts.ReclaimHook != nil {
		gcOpts = append(gcOpts, gc.WithReclaimHook(opts.ReclaimHook))
	}

	return &Memory{
		heap:    h,
		threads: threads,
		globals: globals,
		gc:      gc.New(h, threads, globals, gcOpts...),
	}
}

func (m *Memory) Heap() *heap.Heap {
	return m.heap
}

func (m *Memory) Threads() *thread.Registry {
	return m.threads
}

func (m *Memory) Globals() *roots.Globals {
	return m.globals
}

func (m *Memory) GC() *gc.MarkAndSweep {
	return m.gc
}

// ThreadData is a registered mutator thread together with its collector state.
type ThreadData struct {
	Thread *thread.Data
	GC     *gc.ThreadData
}

// Bind returns a context carrying the thread, for the context-based
// thread state entry points.
func (td *ThreadData) Bind(ctx context.Context) context.Context {
	return thread.WithCurrent(ctx, td.Thread)
}

// RegisterThread attaches a new mutator thread. It starts Runnable.
func (m *Memory) RegisterThread() *ThreadData {
	d := m.threads.Register()
	return &ThreadData{Thread: d, GC: m.gc.NewThreadData(d)}
}

// UnregisterThread detaches td. Its unpublished allocations become
// visible to the next collection.
func (m *Memory) UnregisterThread(td *ThreadData) {
	m.threads.Unregister(td.Thread)
}

// Roots lists the current roots that name an object, labelled with where
// they were found.
func (m *Memory) Roots() []roots.Root {
	return roots.Labelled(m.threads, m.globals)
}

// Inspect snapshots the published heap into a graph. Like a collection it
// must only run while no mutator touches the heap.
func (m *Memory) Inspect() *graph.MemGraph {
	return graph.FromHeap(m.heap, m.Roots())
}

// Explanation says why an object is, or is not, kept alive.
type Explanation struct {
	Ref  heap.Ref
	Live bool
	// Paths are the shortest reference chains from the object to a root.
	Paths []graph.Path
	// RootLabels names the root at the end of each path.
	RootLabels []string
	// Dominators lists the objects every path passes through, nearest
	// first, ending with graph.SuperRoot.
	Dominators []heap.Ref
	// Retained is the number of bytes reclaimed if the object became
	// unreachable.
	Retained uint64
}

// Explain reports the retention of r using up to maxPaths paths.
func (m *Memory) Explain(r heap.Ref, maxPaths int) Explanation {
	g := m.Inspect()
	ex := Explanation{Ref: r, Live: graph.Reachable(g)[r]}
	if !ex.Live {
		return ex
	}
	labels := g.GetRoots().Labels
	ex.Paths = graph.RetentionPaths(g, r, maxPaths)
	for _, p := range ex.Paths {
		ex.RootLabels = append(ex.RootLabels, labels[p.IDs[len(p.IDs)-1]])
	}
	if path := graph.DominatorPath(graph.Dominators(g), r); len(path) > 1 {
		ex.Dominators = path[1:]
	}
	ex.Retained = graph.RetainedSizeOf(g, r)[r]
	return ex
}
