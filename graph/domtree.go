// ABOUTME: Utility functions for walking dominator chains
// ABOUTME: Answers which objects must die before a given object can be reclaimed
package graph

import "github.com/prateek/marksweep/heap"

// DominatorPath returns the chain of dominators from a node up to the
// super-root. The path includes the node itself and ends with SuperRoot.
// It is nil for nodes absent from idom.
func DominatorPath(idom map[heap.Ref]heap.Ref, node heap.Ref) []heap.Ref {
	if _, ok := idom[node]; !ok {
		return nil
	}
	path := []heap.Ref{node}
	for current := node; current != SuperRoot; {
		current = idom[current]
		path = append(path, current)
	}
	return path
}

// IsDominated returns true if node is dominated by dominator.
func IsDominated(idom map[heap.Ref]heap.Ref, node, dominator heap.Ref) bool {
	if node == dominator {
		return true // A node dominates itself
	}

	current := node
	for {
		dom, exists := idom[current]
		if !exists {
			return false
		}
		if dom == dominator {
			return true
		}
		if dom == SuperRoot {
			return false
		}
		current = dom
	}
}
