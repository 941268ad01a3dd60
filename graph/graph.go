// ABOUTME: Graph interface and in-memory implementation
// ABOUTME: Snapshots a live heap into a graph for offline analysis

package graph

import (
	"maps"
	"slices"
	"sync"

	"github.com/prateek/marksweep/heap"
	"github.com/prateek/marksweep/roots"
)

// Graph represents a heap object graph
type Graph interface {
	// AddObject adds an object to the graph
	AddObject(obj *Object)

	// GetObject retrieves an object by ID
	GetObject(id heap.Ref) *Object

	// NumObjects returns the total number of objects
	NumObjects() int

	// ForEachObject iterates over all objects in ID order
	ForEachObject(fn func(*Object))

	// SetRoots sets the GC roots
	SetRoots(roots Roots)

	// GetRoots returns the GC roots
	GetRoots() Roots
}

// MemGraph is an in-memory implementation of Graph
type MemGraph struct {
	mu      sync.RWMutex
	objects map[heap.Ref]*Object
	roots   Roots
}

// NewMemGraph creates a new in-memory graph
func NewMemGraph() *MemGraph {
	return &MemGraph{
		objects: make(map[heap.Ref]*Object),
	}
}

// FromHeap snapshots the resident and permanent objects of h. The edges of
// an object are the references its layout traces plus its weak counter, the
// same edges a collection follows. Root entries that do not name an object
// are dropped; a root seen twice keeps its first label.
func FromHeap(h *heap.Heap, rootList []roots.Root) *MemGraph {
	g := NewMemGraph()
	h.ForEach(func(r heap.Ref, obj *heap.Object) {
		o := &Object{ID: r, Type: obj.Type.Name, Size: obj.Size(), Permanent: r.Permanent()}
		heap.TraceFields(obj, func(to heap.Ref) {
			if to.Valid() {
				o.Ptrs = append(o.Ptrs, to)
			}
		})
		g.objects[r] = o
	})
	// ExtraData takes the heap lock, so weak edges are added after ForEach.
	for r, o := range g.objects {
		if extra := h.ExtraData(r); extra != nil && extra.WeakCounter().Valid() {
			o.Ptrs = append(o.Ptrs, extra.WeakCounter())
		}
	}

	rs := Roots{Labels: make(map[heap.Ref]string)}
	for _, root := range rootList {
		if g.objects[root.Ref] == nil {
			continue
		}
		if _, seen := rs.Labels[root.Ref]; seen {
			continue
		}
		rs.IDs = append(rs.IDs, root.Ref)
		rs.Labels[root.Ref] = root.Source
	}
	g.roots = rs
	return g
}

// AddObject adds an object to the graph
func (g *MemGraph) AddObject(obj *Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[obj.ID] = obj
}

// GetObject retrieves an object by ID
func (g *MemGraph) GetObject(id heap.Ref) *Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.objects[id]
}

// NumObjects returns the total number of objects
func (g *MemGraph) NumObjects() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// ForEachObject iterates over all objects in ID order
func (g *MemGraph) ForEachObject(fn func(*Object)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range slices.Sorted(maps.Keys(g.objects)) {
		fn(g.objects[id])
	}
}

// SetRoots sets the GC roots
func (g *MemGraph) SetRoots(roots Roots) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = roots
}

// GetRoots returns the GC roots
func (g *MemGraph) GetRoots() Roots {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roots
}

// Reachable returns the objects reachable from the roots.
func Reachable(g Graph) map[heap.Ref]bool {
	seen := make(map[heap.Ref]bool)
	stack := slices.Clone(g.GetRoots().IDs)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		obj := g.GetObject(id)
		if obj == nil {
			continue
		}
		seen[id] = true
		stack = append(stack, obj.Ptrs...)
	}
	return seen
}
