// ABOUTME: Per-thread allocation front end of the heap
// ABOUTME: Objects stay pending until the owning thread publishes them

package heap

// Producer allocates on behalf of one thread. Objects it allocates are not
// visited by heap iteration until Publish is called, which is what makes a
// thread's allocations visible to a collector running on another thread.
type Producer struct {
	h       *Heap
	pending []Ref
}

// NewProducer creates an allocation front end bound to h.
func (h *Heap) NewProducer() *Producer {
	return &Producer{h: h}
}

// Alloc reserves a zeroed object of type ti with n elements (n is ignored
// for records). It fails with ErrOutOfMemory when the heap is full.
func (p *Producer) Alloc(ti *TypeInfo, n int) (Ref, error) {
	r, err := p.h.reserve(ti, n)
	if err != nil {
		return Nil, err
	}
	p.pending = append(p.pending, r)
	return r, nil
}

// Publish moves every pending object into the shared heap.
func (p *Producer) Publish() {
	if len(p.pending) == 0 {
		return
	}
	p.h.publish(p.pending)
	p.pending = p.pending[:0]
}

// Pending returns the number of unpublished objects.
func (p *Producer) Pending() int {
	return len(p.pending)
}
