// ABOUTME: Arena of managed objects addressed by stable handles
// ABOUTME: Tracks colours, side-table data, capacity and supports erase-while-iterating

package heap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prateek/marksweep/fatal"
)

var (
	// ErrOutOfMemory is returned when an allocation would exceed the heap capacity
	ErrOutOfMemory = errors.New("heap: out of memory")
)

// Options configures a Heap.
type Options struct {
	// CapacityBytes bounds the accounted size of tracked objects. Zero means unbounded.
	CapacityBytes uint64
}

type nodeState uint8

const (
	statePending nodeState = iota + 1
	stateResident
)

type node struct {
	obj   Object
	data  ObjectData
	state nodeState
}

// Heap is the tracked object storage. Tracked objects live in an arena
// indexed by Ref; permanent objects live in a separate table and are never
// coloured or swept.
type Heap struct {
	mu        sync.RWMutex
	nodes     []*node
	free      []Ref
	permanent []*Object
	extra     map[Ref]*ExtraData

	capacity uint64
	used     uint64
	pending  int
	resident int
}

// Stats is a point-in-time summary of a Heap.
type Stats struct {
	Resident      int
	Pending       int
	Permanent     int
	UsedBytes     uint64
	CapacityBytes uint64
}

// New creates an empty heap
func New(opts Options) *Heap {
	return &Heap{
		nodes:    make([]*node, firstRef),
		extra:    make(map[Ref]*ExtraData),
		capacity: opts.CapacityBytes,
	}
}

func (h *Heap) reserve(ti *TypeInfo, n int) (Ref, error) {
	words := n
	if ti.Kind == KindRecord {
		words = ti.Words
	}
	size := AllocSize(ti, n)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.capacity != 0 && h.used+size > h.capacity {
		return Nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, h.used, h.capacity)
	}

	nd := &node{
		obj:   Object{Type: ti, Words: make([]Word, words)},
		state: statePending,
	}
	var r Ref
	if k := len(h.free); k > 0 {
		r = h.free[k-1]
		h.free = h.free[:k-1]
		h.nodes[r] = nd
	} else {
		r = Ref(len(h.nodes))
		h.nodes = append(h.nodes, nd)
	}
	h.used += size
	h.pending++
	return r, nil
}

// publish makes pending objects visible to iteration. Published objects
// start the next cycle White.
func (h *Heap) publish(refs []Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range refs {
		nd := h.node(r)
		if nd == nil || nd.state != statePending {
			continue
		}
		nd.state = stateResident
		nd.data.color = White
		h.pending--
		h.resident++
	}
}

// NewPermanent allocates an untracked object. Permanent objects are traced
// for outgoing references but never coloured, swept or counted against
// the capacity.
func (h *Heap) NewPermanent(ti *TypeInfo, n int) Ref {
	words := n
	if ti.Kind == KindRecord {
		words = ti.Words
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.permanent = append(h.permanent, &Object{Type: ti, Words: make([]Word, words)})
	return permanentBit | Ref(len(h.permanent)-1)
}

func (h *Heap) node(r Ref) *node {
	if !r.Heap() || uint64(r) >= uint64(len(h.nodes)) {
		return nil
	}
	return h.nodes[r]
}

func (h *Heap) object(r Ref) *Object {
	if r.Permanent() {
		idx := uint64(r &^ permanentBit)
		if idx >= uint64(len(h.permanent)) {
			return nil
		}
		return h.permanent[idx]
	}
	if nd := h.node(r); nd != nil {
		return &nd.obj
	}
	return nil
}

// Object returns the body of r, or nil if r does not name a live object.
func (h *Heap) Object(r Ref) *Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.object(r)
}

// ObjectData returns the collector metadata of r. It is nil for permanent
// objects and for handles that do not name a live tracked object.
func (h *Heap) ObjectData(r Ref) *ObjectData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nd := h.node(r); nd != nil {
		return &nd.data
	}
	return nil
}

// Lookup returns the body and, for tracked objects, the collector metadata
// of r. The body is nil if r does not name a live object.
func (h *Heap) Lookup(r Ref) (*Object, *ObjectData) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nd := h.node(r); nd != nil {
		return &nd.obj, &nd.data
	}
	return h.object(r), nil
}

// Contains reports whether r names a live object, pending or resident.
func (h *Heap) Contains(r Ref) bool {
	return h.Object(r) != nil
}

// Resident reports whether r names a published tracked object.
func (h *Heap) Resident(r Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nd := h.node(r)
	return nd != nil && nd.state == stateResident
}

// ExtraData returns the side-table entry of r, or nil.
func (h *Heap) ExtraData(r Ref) *ExtraData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.extra[r]
}

// InstallExtraData returns the side-table entry of r, creating it if needed.
func (h *Heap) InstallExtraData(r Ref) *ExtraData {
	h.mu.Lock()
	defer h.mu.Unlock()
	fatal.Assert(h.object(r) != nil, "cannot attach extra data to %s: no such object", r)
	e, ok := h.extra[r]
	if !ok {
		e = &ExtraData{}
		h.extra[r] = e
	}
	return e
}

// ForEach calls fn for every resident tracked object and every permanent
// object. fn must not call back into the heap.
func (h *Heap) ForEach(fn func(Ref, *Object)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := firstRef; uint64(i) < uint64(len(h.nodes)); i++ {
		if nd := h.nodes[i]; nd != nil && nd.state == stateResident {
			fn(i, &nd.obj)
		}
	}
	for i, obj := range h.permanent {
		fn(permanentBit|Ref(i), obj)
	}
}

// Stats returns a summary of the heap
func (h *Heap) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Resident:      h.resident,
		Pending:       h.pending,
		Permanent:     len(h.permanent),
		UsedBytes:     h.used,
		CapacityBytes: h.capacity,
	}
}

// erase frees a resident node and tears down its extra data. A surviving
// weak counter of the erased object has its referent cleared, and an
// erased weak counter is unlinked from the object it counts for.
// Callers hold h.mu.
func (h *Heap) erase(r Ref) {
	nd := h.nodes[r]
	h.used -= nd.obj.Size()
	h.resident--
	if e, ok := h.extra[r]; ok {
		delete(h.extra, r)
		if c := h.object(e.weakCounter); c != nil && c.Type == WeakCounterType && Ref(c.Words[0]) == r {
			c.Words[0] = Word(Nil)
		}
	}
	if nd.obj.Type == WeakCounterType {
		if e, ok := h.extra[Ref(nd.obj.Words[0])]; ok && e.weakCounter == r {
			e.weakCounter = Nil
		}
	}
	h.nodes[r] = nil
	h.free = append(h.free, r)
}

// Iterator walks resident tracked objects in handle order while holding
// the heap lock. The current object may be erased with EraseAndAdvance.
type Iterator struct {
	h      *Heap
	cur    Ref
	closed bool
}

// Iter locks the heap and positions an iterator on the first resident
// object. Close releases the lock.
func (h *Heap) Iter() *Iterator {
	h.mu.Lock()
	it := &Iterator{h: h, cur: firstRef}
	it.seek()
	return it
}

func (it *Iterator) seek() {
	for uint64(it.cur) < uint64(len(it.h.nodes)) {
		if nd := it.h.nodes[it.cur]; nd != nil && nd.state == stateResident {
			return
		}
		it.cur++
	}
}

// Valid reports whether the iterator is positioned on an object.
func (it *Iterator) Valid() bool {
	return !it.closed && uint64(it.cur) < uint64(len(it.h.nodes))
}

// Ref returns the handle of the current object.
func (it *Iterator) Ref() Ref {
	return it.cur
}

// Object returns the body of the current object.
func (it *Iterator) Object() *Object {
	return &it.h.nodes[it.cur].obj
}

// GCObjectData returns the collector metadata of the current object.
func (it *Iterator) GCObjectData() *ObjectData {
	return &it.h.nodes[it.cur].data
}

// Advance moves to the next resident object.
func (it *Iterator) Advance() {
	it.cur++
	it.seek()
}

// EraseAndAdvance removes the current object from the heap and moves to
// the next resident object.
func (it *Iterator) EraseAndAdvance() {
	it.h.erase(it.cur)
	it.Advance()
}

// Close releases the heap lock. It is safe to call more than once.
func (it *Iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.h.mu.Unlock()
}
