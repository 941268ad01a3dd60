// ABOUTME: Registry of threads attached to the memory manager
// ABOUTME: Supports registration, unregistration and snapshot iteration

package thread

import (
	"iter"
	"slices"
	"sync"

	"github.com/prateek/marksweep/fatal"
	"github.com/prateek/marksweep/heap"
)

// Registry tracks the threads attached to one heap.
type Registry struct {
	mu      sync.Mutex
	heap    *heap.Heap
	nextID  uint64
	threads []*Data
}

// NewRegistry creates an empty registry for threads allocating from h.
func NewRegistry(h *heap.Heap) *Registry {
	return &Registry{heap: h}
}

// Register attaches a new thread. Threads start Runnable.
func (r *Registry) Register() *Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d := newData(r.nextID, r.heap.NewProducer())
	r.threads = append(r.threads, d)
	return d
}

// Unregister detaches d after publishing its remaining allocations.
// Unregistering an unknown thread is a fatal error.
func (r *Registry) Unregister(d *Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.threads, d)
	fatal.Assert(i >= 0, "thread %d is not registered", d.ID())
	d.Publish()
	r.threads = slices.Delete(r.threads, i, i+1)
}

// Iter yields the threads registered at the time of the call.
func (r *Registry) Iter() iter.Seq[*Data] {
	r.mu.Lock()
	snapshot := slices.Clone(r.threads)
	r.mu.Unlock()
	return slices.Values(snapshot)
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
