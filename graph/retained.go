// ABOUTME: Calculates retained memory sizes using dominator tree analysis
// ABOUTME: Ranks the objects whose death would free the most memory
package graph

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/prateek/marksweep/heap"
)

// RetainedSize computes the retained size for each reachable object in the graph.
// The retained size of an object is the total size of all objects that would be
// reclaimed if that object were removed, which is the size of its subtree in
// the dominator tree.
func RetainedSize(g Graph) map[heap.Ref]uint64 {
	tree := DominatorTree(Dominators(g))

	// Parents precede children in breadth-first order, so summing in
	// reverse visits every subtree before its root.
	order := []heap.Ref{SuperRoot}
	for i := 0; i < len(order); i++ {
		order = append(order, tree[order[i]]...)
	}

	retained := make(map[heap.Ref]uint64, len(order))
	for i := len(order) - 1; i > 0; i-- {
		id := order[i]
		size := g.GetObject(id).Size
		for _, child := range tree[id] {
			size += retained[child]
		}
		retained[id] = size
	}
	return retained
}

// RetainedSizeOf returns the retained sizes of the given objects. Objects
// that are unreachable or absent are left out.
func RetainedSizeOf(g Graph, ids ...heap.Ref) map[heap.Ref]uint64 {
	if len(ids) == 0 {
		return make(map[heap.Ref]uint64)
	}
	return lo.PickByKeys(RetainedSize(g), ids)
}

// Retainer is one entry of a retained-size ranking.
type Retainer struct {
	ID       heap.Ref
	Type     string
	Size     uint64
	Retained uint64
}

// TopRetainers returns the n objects with the largest retained size,
// largest first. Ties are broken by ID.
func TopRetainers(g Graph, n int) []Retainer {
	if n <= 0 {
		return nil
	}
	ranking := lo.MapToSlice(RetainedSize(g), func(id heap.Ref, retained uint64) Retainer {
		obj := g.GetObject(id)
		return Retainer{ID: id, Type: obj.Type, Size: obj.Size, Retained: retained}
	})
	slices.SortFunc(ranking, func(a, b Retainer) int {
		if c := cmp.Compare(b.Retained, a.Retained); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranking[:min(n, len(ranking))]
}
