// ABOUTME: Core data types for the heap object graph
// ABOUTME: Defines Object and Roots keyed by heap handles

package graph

import "github.com/prateek/marksweep/heap"

// SuperRoot is the synthetic node that points at every root. It is never
// the handle of a real object.
const SuperRoot = heap.Nil

// Object represents a single heap object
type Object struct {
	ID        heap.Ref   // Handle of the object
	Type      string     // Type name
	Size      uint64     // Accounted size in bytes
	Permanent bool       // Untracked object that is never swept
	Ptrs      []heap.Ref // Handles this object keeps alive
}

// Roots represents the set of GC root objects
type Roots struct {
	IDs    []heap.Ref          // Distinct root handles, in enumeration order
	Labels map[heap.Ref]string // Where each root was first found
}
