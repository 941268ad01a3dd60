// ABOUTME: BFS search for the chains of references keeping an object alive
// ABOUTME: Finds up to K shortest paths from an object back to a root

package graph

import (
	"slices"

	"github.com/prateek/marksweep/heap"
)

// Path is a chain of references ending at an object
type Path struct {
	IDs []heap.Ref // From the object to the root that retains it
}

// RetentionPaths finds up to maxPaths shortest paths from an object to the
// roots by walking referrers breadth first. Unreachable objects have none.
func RetentionPaths(g Graph, from heap.Ref, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}
	reach := Reachable(g)
	if !reach[from] {
		return nil
	}

	reverse := BuildReverseEdges(g)
	rootSet := make(map[heap.Ref]bool)
	for _, id := range g.GetRoots().IDs {
		rootSet[id] = true
	}
	if rootSet[from] {
		return []Path{{IDs: []heap.Ref{from}}}
	}

	type searchNode struct {
		id   heap.Ref
		path []heap.Ref
	}

	var result []Path
	queue := []searchNode{{id: from, path: []heap.Ref{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[node.id] {
			// garbage referrers never lead to a root; paths stay simple
			if !reach[referrer] || slices.Contains(node.path, referrer) {
				continue
			}

			newPath := make([]heap.Ref, len(node.path)+1)
			copy(newPath, node.path)
			newPath[len(node.path)] = referrer

			if rootSet[referrer] {
				result = append(result, Path{IDs: newPath})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{id: referrer, path: newPath})
		}
	}

	return result
}
