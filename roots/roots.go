// ABOUTME: Enumeration of the references a collection starts from
// ABOUTME: Covers thread shadow stacks, thread locals and process-wide globals

package roots

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/thread"
)

var (
	// ErrInitializing is returned when a singleton is requested while its initializer runs
	ErrInitializing = errors.New("roots: singleton is being initialized")
)

// ThreadRoots yields the references held by d's shadow stack followed by
// its thread locals. Entries may be Nil or Initializing. The thread must
// have been published before its roots are enumerated by a collector.
func ThreadRoots(d *thread.Data) iter.Seq[heap.Ref] {
	return func(yield func(heap.Ref) bool) {
		for f := range d.Frames() {
			for _, r := range f.Slots() {
				if !yield(r) {
					return
				}
			}
		}
		for _, r := range d.Locals() {
			if !yield(r) {
				return
			}
		}
	}
}

// Global is a process-wide managed variable.
type Global struct {
	name  string
	value atomic.Uint64
}

func (g *Global) Name() string {
	return g.name
}

func (g *Global) Load() heap.Ref {
	return heap.Ref(g.value.Load())
}

func (g *Global) Store(r heap.Ref) {
	g.value.Store(uint64(r))
}

// Initialize lazily computes the value of a singleton global. While init
// runs the global holds heap.Initializing; a request made in that window,
// including a re-entrant one from init itself, fails with ErrInitializing.
// A failed init leaves the global Nil.
func (g *Global) Initialize(init func() (heap.Ref, error)) (heap.Ref, error) {
	if !g.value.CompareAndSwap(uint64(heap.Nil), uint64(heap.Initializing)) {
		r := g.Load()
		if r == heap.Initializing {
			return heap.Nil, fmt.Errorf("%w: %s", ErrInitializing, g.name)
		}
		return r, nil
	}
	r, err := init()
	if err != nil {
		g.Store(heap.Nil)
		return heap.Nil, err
	}
	g.Store(r)
	return r, nil
}

// Globals is the set of process-wide managed variables.
type Globals struct {
	mu      sync.Mutex
	globals []*Global
}

// NewGlobals creates an empty set of globals.
func NewGlobals() *Globals {
	return &Globals{}
}

// Register declares a new global holding Nil.
func (gs *Globals) Register(name string) *Global {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	g := &Global{name: name}
	gs.globals = append(gs.globals, g)
	return g
}

// Iter yields the globals declared at the time of the call.
func (gs *Globals) Iter() iter.Seq[*Global] {
	gs.mu.Lock()
	snapshot := slices.Clone(gs.globals)
	gs.mu.Unlock()
	return slices.Values(snapshot)
}

// GlobalRoots yields the current value of every global.
func GlobalRoots(gs *Globals) iter.Seq[heap.Ref] {
	return func(yield func(heap.Ref) bool) {
		for g := range gs.Iter() {
			if !yield(g.Load()) {
				return
			}
		}
	}
}

// Root is a root entry labelled with where it was found.
type Root struct {
	Ref    heap.Ref
	Source string
}

// Labelled lists every root of the registered threads and globals that
// names an object, tagged with its location. It is meant for inspection
// tools; collections use ThreadRoots and GlobalRoots directly.
func Labelled(threads *thread.Registry, gs *Globals) []Root {
	var out []Root
	for d := range threads.Iter() {
		i := 0
		for f := range d.Frames() {
			for slot, r := range f.Slots() {
				out = append(out, Root{Ref: r, Source: fmt.Sprintf("thread %d frame %d slot %d", d.ID(), i, slot)})
			}
			i++
		}
		for name, r := range d.Locals() {
			out = append(out, Root{Ref: r, Source: fmt.Sprintf("thread %d local %s", d.ID(), name)})
		}
	}
	for g := range gs.Iter() {
		out = append(out, Root{Ref: g.Load(), Source: "global " + g.Name()})
	}
	return lo.Filter(out, func(r Root, _ int) bool {
		return r.Ref.Valid()
	})
}
