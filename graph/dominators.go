// ABOUTME: Computes immediate dominators of the heap object graph
// ABOUTME: Iterative Cooper-Harvey-Kennedy data-flow over a reverse postorder

package graph

import (
	"slices"

	"github.com/prateek/marksweep/heap"
)

// Dominators computes the immediate dominator of each reachable object.
// The super-root (SuperRoot) points at every root, dominates all of them and
// has no dominator itself. Edges to handles that are not in the graph are
// ignored. Neither the traversal nor the fixpoint recurses, so arbitrarily
// deep heaps are fine.
func Dominators(g Graph) map[heap.Ref]heap.Ref {
	adj := make(map[heap.Ref][]heap.Ref)
	g.ForEachObject(func(obj *Object) {
		adj[obj.ID] = obj.Ptrs
	})
	for _, id := range g.GetRoots().IDs {
		if _, ok := adj[id]; ok {
			adj[SuperRoot] = append(adj[SuperRoot], id)
		}
	}

	// Number nodes in postorder; the super-root gets the highest number.
	type frame struct {
		id   heap.Ref
		next int
	}
	index := make(map[heap.Ref]int)
	var order []heap.Ref
	visited := map[heap.Ref]bool{SuperRoot: true}
	stack := []frame{{id: SuperRoot}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if edges := adj[top.id]; top.next < len(edges) {
			w := edges[top.next]
			top.next++
			if _, exists := adj[w]; exists && !visited[w] {
				visited[w] = true
				stack = append(stack, frame{id: w})
			}
			continue
		}
		index[top.id] = len(order)
		order = append(order, top.id)
		stack = stack[:len(stack)-1]
	}

	n := len(order)
	preds := make([][]int, n)
	for v, id := range order {
		for _, w := range adj[id] {
			if wi, ok := index[w]; ok {
				preds[wi] = append(preds[wi], v)
			}
		}
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[n-1] = n - 1

	intersect := func(a, b int) int {
		for a != b {
			for a < b {
				a = idom[a]
			}
			for b < a {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for b := n - 2; b >= 0; b-- {
			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	result := make(map[heap.Ref]heap.Ref, n-1)
	for i := 0; i < n-1; i++ {
		result[order[i]] = order[idom[i]]
	}
	return result
}

// DominatorTree builds a tree structure from immediate dominators.
// Returns a map from each node to its immediately dominated nodes in ID order.
func DominatorTree(idom map[heap.Ref]heap.Ref) map[heap.Ref][]heap.Ref {
	tree := make(map[heap.Ref][]heap.Ref)
	tree[SuperRoot] = []heap.Ref{}
	for node := range idom {
		tree[node] = []heap.Ref{}
	}
	for node, dom := range idom {
		tree[dom] = append(tree[dom], node)
	}
	for _, children := range tree {
		slices.Sort(children)
	}
	return tree
}
