package gc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/roots"
	"github.com/prateek/marksweep/thread"
)

// node has two reference fields and one scalar word.
var node = heap.RecordType("Node", 3, 0, 1)

type fixture struct {
	h       *heap.Heap
	threads *thread.Registry
	globals *roots.Globals
	ms      *MarkAndSweep
	main    *thread.Data
	td      *ThreadData
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithHeap(t, heap.Options{}, opts...)
}

func newFixtureWithHeap(t *testing.T, hopts heap.Options, opts ...Option) *fixture {
	t.Helper()
	h := heap.New(hopts)
	threads := thread.NewRegistry(h)
	globals := roots.NewGlobals()
	ms := New(h, threads, globals, opts...)
	main := threads.Register()
	return &fixture{
		h:       h,
		threads: threads,
		globals: globals,
		ms:      ms,
		main:    main,
		td:      ms.NewThreadData(main),
	}
}

// alloc allocates a node without passing a safepoint.
func (f *fixture) alloc(t *testing.T) heap.Ref {
	t.Helper()
	r, err := f.main.Producer().Alloc(node, 0)
	require.NoError(t, err)
	return r
}

func (f *fixture) allocN(t *testing.T, n int) []heap.Ref {
	t.Helper()
	refs := make([]heap.Ref, n)
	for i := range refs {
		refs[i] = f.alloc(t)
	}
	return refs
}

func (f *fixture) link(from heap.Ref, field int, to heap.Ref) {
	f.h.Object(from).SetRef(field, to)
}

// collect publishes everything and runs one cycle over an explicit root set.
func (f *fixture) collect(rootSet ...heap.Ref) Stats {
	f.main.Publish()
	c := NewCollection(f.h, rootSet, nil)
	c.Mark()
	c.Sweep()
	return c.Stats()
}

func (f *fixture) live(refs ...heap.Ref) []bool {
	out := make([]bool, len(refs))
	for i, r := range refs {
		out[i] = f.h.Contains(r)
	}
	return out
}

func (f *fixture) assertAllWhite(t *testing.T) {
	t.Helper()
	it := f.h.Iter()
	defer it.Close()
	for it.Valid() {
		require.Equal(t, heap.White, it.GCObjectData().Color(), "object %s", it.Ref())
		it.Advance()
	}
}

func noCollections() Option {
	return WithConfig(Config{Threshold: 1 << 40, AllocationThresholdBytes: 1 << 40})
}
