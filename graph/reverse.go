// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to their referrers for retention paths

package graph

import "github.com/prateek/marksweep/heap"

// ReverseEdges maps each object to the objects that point to it
type ReverseEdges map[heap.Ref][]heap.Ref

// BuildReverseEdges creates a map of reverse edges. Referrers are listed in
// ID order.
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges)
	g.ForEachObject(func(obj *Object) {
		for _, target := range obj.Ptrs {
			reverse[target] = append(reverse[target], obj.ID)
		}
	})
	return reverse
}
