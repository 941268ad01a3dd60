package heapdump

import (
	"errors"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/graph"
	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/roots"
	"github.com/prateek/marksweep/thread"
)

func parseSample(t *testing.T) *Dump {
	t.Helper()
	d, err := Open(strings.NewReader(sampleDump))
	require.NoError(t, err)
	return d
}

func TestBuild(t *testing.T) {
	mem := marksweep.New(marksweep.DefaultOptions())
	loaded, err := parseSample(t).Build(mem)
	require.NoError(t, err)
	h := mem.Heap()

	require.Len(t, loaded.Threads, 2)
	assert.Equal(t, 2, mem.Threads().Len())
	assert.Equal(t, uint64(1), loaded.Threads[0].Thread.ID())
	assert.Equal(t, thread.Runnable, loaded.Threads[0].Thread.State())
	assert.Equal(t, thread.Native, loaded.Threads[1].Thread.State())

	node := h.Object(loaded.Ref(1))
	require.NotNil(t, node)
	assert.Equal(t, "Node", node.Type.Name)
	assert.Equal(t, []heap.Word{heap.Word(loaded.Ref(2)), 0, 42}, node.Words)

	arr := h.Object(loaded.Ref(2))
	assert.Equal(t, []heap.Word{heap.Word(loaded.Ref(1)), heap.Word(heap.Initializing), 0}, arr.Words)
	assert.Equal(t, 16, h.Object(loaded.Ref(3)).Len())
	assert.True(t, loaded.Ref(4).Permanent())
	assert.Equal(t, loaded.Ref(3), h.WeakReferent(loaded.Ref(5)))
	assert.Equal(t, loaded.Ref(5), h.ExtraData(loaded.Ref(3)).WeakCounter())

	for id := int64(1); id <= 7; id++ {
		if r := loaded.Ref(id); !r.Permanent() {
			assert.True(t, h.Resident(r), "object %d should be published", id)
		}
	}

	rootSources := lo.Map(mem.Roots(), func(r roots.Root, _ int) string { return r.Source })
	assert.Equal(t, []string{"thread 1 frame 0 slot 0", "thread 1 local cache", "global config"}, rootSources)
}

func TestBuiltDumpCollects(t *testing.T) {
	mem := marksweep.New(marksweep.DefaultOptions())
	loaded, err := parseSample(t).Build(mem)
	require.NoError(t, err)

	stats := mem.GC().PerformFullGC(nil)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.False(t, mem.Heap().Contains(loaded.Ref(7)))
	for _, id := range []int64{1, 2, 3, 4, 5, 6} {
		assert.True(t, mem.Heap().Contains(loaded.Ref(id)), "object %d should survive", id)
	}
}

func TestCaptureRebuildsSameGraph(t *testing.T) {
	mem := marksweep.New(marksweep.DefaultOptions())
	_, err := parseSample(t).Build(mem)
	require.NoError(t, err)

	captured := Capture(mem)
	assert.Len(t, captured.Objects, 7)
	assert.Len(t, captured.Threads, 2)
	assert.Equal(t, "native", captured.Threads[1].State)
	assert.Equal(t, InitializingID, captured.Globals[1].Ref)

	again := marksweep.New(marksweep.DefaultOptions())
	_, err = captured.Build(again)
	require.NoError(t, err)

	retained := func(m *marksweep.Memory) []uint64 {
		return lo.Map(graph.TopRetainers(m.Inspect(), 100), func(r graph.Retainer, _ int) uint64 {
			return r.Retained
		})
	}
	assert.Equal(t, retained(mem), retained(again))
	assert.Equal(t, captured, Capture(again))
}

func TestBuildRejectsInvalidDumps(t *testing.T) {
	node := TypeDecl{Name: "Node", Kind: KindRecord, Words: 2, Refs: []int{0}}
	tests := []struct {
		name string
		dump Dump
	}{
		{name: "duplicate type", dump: Dump{Types: []TypeDecl{node, node}}},
		{name: "builtin type redeclared", dump: Dump{Types: []TypeDecl{{Name: "WeakReferenceCounter", Kind: KindRecord, Words: 1}}}},
		{name: "unknown kind", dump: Dump{Types: []TypeDecl{{Name: "X", Kind: "map"}}}},
		{name: "offset outside record", dump: Dump{Types: []TypeDecl{{Name: "X", Kind: KindRecord, Words: 1, Refs: []int{1}}}}},
		{name: "scalar array without element size", dump: Dump{Types: []TypeDecl{{Name: "X", Kind: KindScalarArray}}}},
		{name: "non-positive id", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{{ID: 0, Type: "Node"}}}},
		{name: "duplicate id", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{{ID: 1, Type: "Node"}, {ID: 1, Type: "Node"}}}},
		{name: "unknown type", dump: Dump{Objects: []ObjectDecl{{ID: 1, Type: "Missing"}}}},
		{name: "too many words", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{{ID: 1, Type: "Node", Words: []int64{0, 0, 0}}}}},
		{name: "dangling reference", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{{ID: 1, Type: "Node", Words: []int64{9}}}}},
		{name: "weak counter of wrong type", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{{ID: 1, Type: "Node", WeakCounter: 1}}}},
		{name: "weak counter for another object", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{
			{ID: 1, Type: "Node", WeakCounter: 3},
			{ID: 2, Type: "Node"},
			{ID: 3, Type: "WeakReferenceCounter", Words: []int64{2}},
		}}},
		{name: "weak counter shared by two objects", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{
			{ID: 1, Type: "Node", WeakCounter: 3},
			{ID: 2, Type: "Node", WeakCounter: 3},
			{ID: 3, Type: "WeakReferenceCounter", Words: []int64{1}},
		}}},
		{name: "weak counter without referent", dump: Dump{Types: []TypeDecl{node}, Objects: []ObjectDecl{
			{ID: 1, Type: "Node", WeakCounter: 2},
			{ID: 2, Type: "WeakReferenceCounter"},
		}}},
		{name: "unknown thread state", dump: Dump{Threads: []ThreadDecl{{State: "blocked"}}}},
		{name: "dangling frame slot", dump: Dump{Threads: []ThreadDecl{{Frames: [][]int64{{3}}}}}},
		{name: "dangling local", dump: Dump{Threads: []ThreadDecl{{Locals: map[string]int64{"x": 3}}}}},
		{name: "dangling global", dump: Dump{Globals: []GlobalDecl{{Name: "g", Ref: 3}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := marksweep.New(marksweep.DefaultOptions())
			_, err := tt.dump.Build(mem)
			assert.True(t, errors.Is(err, ErrInvalidDump), "got %v", err)
			assert.Equal(t, 0, mem.Threads().Len())
			assert.Equal(t, 0, mem.Heap().Stats().Pending+mem.Heap().Stats().Resident)
		})
	}
}

func TestBuildOutOfMemory(t *testing.T) {
	opts := marksweep.DefaultOptions()
	opts.HeapCapacityBytes = heap.HeaderSize
	mem := marksweep.New(opts)

	_, err := parseSample(t).Build(mem)
	require.Error(t, err)
	assert.True(t, errors.Is(err, heap.ErrOutOfMemory))
	assert.Contains(t, err.Error(), "load object 1")
}

func TestBuildOutOfMemoryLeavesNoRoots(t *testing.T) {
	opts := marksweep.DefaultOptions()
	opts.HeapCapacityBytes = heap.HeaderSize + 3*heap.WordSize
	mem := marksweep.New(opts)

	_, err := parseSample(t).Build(mem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load object 2")
	assert.Equal(t, 0, mem.Threads().Len())
	assert.Equal(t, 0, mem.Heap().Stats().Permanent)
	assert.Empty(t, mem.Roots())

	stats := mem.GC().PerformFullGC(nil)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.Equal(t, 0, mem.Heap().Stats().Resident)
}

func TestPermanentObjectOutlivesItsWeakCounter(t *testing.T) {
	d := Dump{
		Types: []TypeDecl{{Name: "Node", Kind: KindRecord, Words: 1, Refs: []int{0}}},
		Objects: []ObjectDecl{
			{ID: 1, Type: "Node", Permanent: true, WeakCounter: 2},
			{ID: 2, Type: "WeakReferenceCounter", Words: []int64{1}},
		},
	}
	mem := marksweep.New(marksweep.DefaultOptions())
	loaded, err := d.Build(mem)
	require.NoError(t, err)

	assert.Equal(t, 1, mem.GC().PerformFullGC(nil).Reclaimed)
	mem.Globals().Register("table").Store(loaded.Ref(1))
	assert.NotPanics(t, func() {
		mem.GC().PerformFullGC(nil)
	})
	assert.Equal(t, heap.Nil, mem.Heap().ExtraData(loaded.Ref(1)).WeakCounter())
}
