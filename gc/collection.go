// ABOUTME: One stop-the-world mark-and-sweep cycle
// ABOUTME: Marks from a root snapshot with an explicit stack, then sweeps the heap

package gc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prateek/marksweep/fatal"
	"github.com/prateek/marksweep/heap"
)

// Phase is the progress of a collection cycle.
type Phase int32

const (
	Idle Phase = iota
	Marking
	Sweeping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Marking:
		return "marking"
	case Sweeping:
		return "sweeping"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// ReclaimHook is called for every object a sweep removes, while the heap
// is locked. It must not call back into the heap.
type ReclaimHook func(ref heap.Ref, obj *heap.Object)

// Stats describes one finished cycle.
type Stats struct {
	Roots          int
	Marked         int // tracked objects coloured Black
	Scanned        int // objects whose fields were traced, permanent ones included
	Retained       int
	Reclaimed      int
	ReclaimedBytes uint64
	MarkDuration   time.Duration
	SweepDuration  time.Duration
}

// Collection is a single cycle over one root-set snapshot. The mark stack
// replaces a persisted gray colour: an object is gray while it sits on it.
type Collection struct {
	heap      *heap.Heap
	rootSet   []heap.Ref
	stack     []heap.Ref
	permanent map[heap.Ref]struct{}
	onReclaim ReclaimHook
	phase     atomic.Int32
	stats     Stats
}

// NewCollection prepares a cycle over h starting from rootSet. rootSet may
// contain Nil and heap.Initializing entries.
func NewCollection(h *heap.Heap, rootSet []heap.Ref, onReclaim ReclaimHook) *Collection {
	c := &Collection{
		heap:      h,
		permanent: make(map[heap.Ref]struct{}),
		onReclaim: onReclaim,
	}
	c.phase.Store(int32(Marking))
	c.setRoots(rootSet)
	return c
}

func (c *Collection) setRoots(rootSet []heap.Ref) {
	c.rootSet = rootSet
	c.stats.Roots = len(rootSet)
}

// Phase returns the current phase of the cycle.
func (c *Collection) Phase() Phase {
	return Phase(c.phase.Load())
}

// Stats returns the statistics gathered so far.
func (c *Collection) Stats() Stats {
	return c.stats
}

func (c *Collection) push(r heap.Ref) {
	c.stack = append(c.stack, r)
}

// Mark colours Black every tracked object reachable from the root set.
// Permanent objects are traced but never coloured; a per-cycle visited set
// stops cycles through them.
func (c *Collection) Mark() {
	c.phase.Store(int32(Marking))
	start := time.Now()

	c.stack = append(c.stack[:0], c.rootSet...)
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]

		if !top.Valid() {
			continue
		}

		obj, data := c.heap.Lookup(top)
		fatal.Assert(obj != nil, "Marking reached %s, which is not a live object", top)
		if data != nil {
			if data.Color() == heap.Black {
				continue
			}
			data.SetColor(heap.Black)
			c.stats.Marked++
		} else {
			if _, seen := c.permanent[top]; seen {
				continue
			}
			c.permanent[top] = struct{}{}
		}
		c.stats.Scanned++

		heap.TraceFields(obj, c.push)

		// Keeps the weak counter cell alive; the referent itself stays
		// reachable only through strong edges.
		if extra := c.heap.ExtraData(top); extra != nil {
			c.push(*extra.WeakCounterLocation())
		}
	}
	c.stats.MarkDuration = time.Since(start)
}

// Sweep resets Black objects to White and removes White ones.
func (c *Collection) Sweep() {
	c.phase.Store(int32(Sweeping))
	start := time.Now()

	it := c.heap.Iter()
	defer it.Close()
	for it.Valid() {
		data := it.GCObjectData()
		switch data.Color() {
		case heap.Black:
			data.SetColor(heap.White)
			c.stats.Retained++
			it.Advance()
		case heap.White:
			obj := it.Object()
			c.stats.Reclaimed++
			c.stats.ReclaimedBytes += obj.Size()
			if c.onReclaim != nil {
				c.onReclaim(it.Ref(), obj)
			}
			it.EraseAndAdvance()
		}
	}
	c.stats.SweepDuration = time.Since(start)
}
